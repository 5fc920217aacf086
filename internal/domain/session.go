// Package domain contains core domain types for the heritage guide service.
package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single serialized conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// VisitedBuilding is a client-reported entry of the tour course.
type VisitedBuilding struct {
	Name    string `json:"name"`
	Visited bool   `json:"visited"`
}

// Session is one user's guided conversation about one heritage site.
type Session struct {
	ID                 int64             `json:"session_id"`
	UserID             int64             `json:"user_id"`
	HeritageID         int64             `json:"heritage_id"`
	HeritageName       string            `json:"heritage_name"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            *time.Time        `json:"end_time,omitempty"`
	QuizCount          int               `json:"quiz_count"`
	FullConversation   []Message         `json:"-"`
	SlidingWindow      []Message         `json:"-"`
	SummaryKeywords    []string          `json:"-"`
	VisitedBuildings   []VisitedBuilding `json:"-"`
	SummaryGeneratedAt *time.Time        `json:"-"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// IsActive reports whether the session has not been ended yet.
func (s *Session) IsActive() bool {
	return s.EndTime == nil
}

// HasSummary reports whether summary generation has finished. A session whose
// course was empty has a summary with no keywords.
func (s *Session) HasSummary() bool {
	return s.SummaryGeneratedAt != nil
}

// Turn is a persisted chat turn.
type Turn struct {
	ID        int64     `json:"chat_id"`
	SessionID int64     `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Quiz is a persisted multiple-choice question about a building.
type Quiz struct {
	ID          int64     `json:"quiz_id"`
	SessionID   int64     `json:"session_id"`
	Question    string    `json:"question"`
	Options     []string  `json:"options"`
	Answer      string    `json:"answer"`
	Explanation string    `json:"explanation"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary is the end-of-session recap returned to clients.
type Summary struct {
	ChatDate       time.Time `json:"chat_date"`
	HeritageName   string    `json:"heritage_name"`
	BuildingCourse []string  `json:"building_course"`
	Keywords       []string  `json:"keywords"`
}
