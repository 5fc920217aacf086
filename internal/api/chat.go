package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/heritage-guide/internal/chat"
	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ChatService is the orchestrator surface the HTTP layer needs.
type ChatService interface {
	CreateSession(ctx context.Context, userID, heritageID int64) (*chat.SessionOverview, error)
	SubmitUserMessage(ctx context.Context, sessionID int64, content string) (*domain.Turn, error)
	RequestBuildingInfo(ctx context.Context, sessionID, buildingID int64) (*chat.BuildingInfo, error)
	RequestBuildingQuiz(ctx context.Context, sessionID, buildingID int64) (*chat.QuizResult, error)
	RequestRecommendedQuestions(ctx context.Context, sessionID, buildingID int64) ([]string, error)
	MessageQuestions(ctx context.Context, sessionID int64) ([]string, error)
	GenerateMessageQuestions(ctx context.Context, sessionID int64) ([]string, error)
	EndSession(ctx context.Context, sessionID int64, visited []domain.VisitedBuilding) (*domain.Session, error)
	SessionStatus(ctx context.Context, sessionID int64) (bool, error)
	GetSummary(ctx context.Context, sessionID int64) (*domain.Summary, error)
}

// CreateSessionRequest opens or resumes a session.
type CreateSessionRequest struct {
	UserID     int64 `json:"user_id"`
	HeritageID int64 `json:"heritage_id"`
}

// SessionResponse describes a session and the routes of its site.
type SessionResponse struct {
	SessionID    int64          `json:"session_id"`
	HeritageID   int64          `json:"heritage_id"`
	HeritageName string         `json:"heritage_name"`
	QuizCount    int            `json:"quiz_count"`
	StartTime    time.Time      `json:"start_time"`
	Resumed      bool           `json:"resumed"`
	Routes       []domain.Route `json:"routes"`
}

// MessageRequest carries a user chat message.
type MessageRequest struct {
	Content string `json:"content"`
}

// BuildingRequest names the building an operation is about.
type BuildingRequest struct {
	BuildingID int64 `json:"building_id"`
}

// EndSessionRequest carries the client-reported tour course.
type EndSessionRequest struct {
	Buildings []domain.VisitedBuilding `json:"buildings"`
}

// ChatHandler serves the chat API.
type ChatHandler struct {
	svc     ChatService
	limiter *RateLimiter
	sockets *SocketRegistry
}

// NewChatHandler creates a chat handler. sockets may be nil when the
// websocket endpoint is not served.
func NewChatHandler(svc ChatService, limiter *RateLimiter, sockets *SocketRegistry) *ChatHandler {
	return &ChatHandler{svc: svc, limiter: limiter, sockets: sockets}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Post("/sessions/{id}/messages", h.SubmitMessage)
		r.Post("/sessions/{id}/end", h.EndSession)
		r.Get("/sessions/{id}/status", h.SessionStatus)
		r.Get("/sessions/{id}/summary", h.GetSummary)

		r.Post("/{id}/heritage/buildings/info", h.BuildingInfo)
		r.Post("/{id}/heritage/buildings/quiz", h.BuildingQuiz)
		r.Post("/{id}/building/recommend-questions", h.RecommendQuestions)
		r.Get("/{id}/message/recommend-questions", h.MessageQuestions)
		r.Post("/{id}/message/recommend-questions", h.GenerateMessageQuestions)

		if h.sockets != nil {
			r.Get("/ws/sessions/{id}/chat", h.ServeChatSocket)
		}
	})
}

// CreateSession opens a session, or returns the user's open one for the site.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.HeritageID <= 0 {
		Error(w, http.StatusBadRequest, "user_id and heritage_id are required")
		return
	}

	overview, err := h.svc.CreateSession(r.Context(), req.UserID, req.HeritageID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	status := http.StatusCreated
	if overview.Resumed {
		status = http.StatusOK
	}
	routes := overview.Routes
	if routes == nil {
		routes = []domain.Route{}
	}
	sess := overview.Session
	JSON(w, status, SessionResponse{
		SessionID:    sess.ID,
		HeritageID:   sess.HeritageID,
		HeritageName: sess.HeritageName,
		QuizCount:    sess.QuizCount,
		StartTime:    sess.StartTime,
		Resumed:      overview.Resumed,
		Routes:       routes,
	})
}

// SubmitMessage runs one chat turn.
func (h *ChatHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.limitedSession(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slog.Info("Chat message request",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Content),
	)

	turn, err := h.svc.SubmitUserMessage(r.Context(), sessionID, req.Content)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, turn)
}

// EndSession closes a session and drops its live sockets.
func (h *ChatHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req EndSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.EndSession(r.Context(), sessionID, req.Buildings)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if h.sockets != nil {
		h.sockets.CloseSession(sessionID)
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"end_time":   sess.EndTime,
	})
}

// SessionStatus reports whether a session has ended.
func (h *ChatHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	ended, err := h.svc.SessionStatus(r.Context(), sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"ended":      ended,
	})
}

// GetSummary returns the session summary once it has been generated.
func (h *ChatHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	summary, err := h.svc.GetSummary(r.Context(), sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if summary == nil {
		WriteError(w, r, domain.ErrSummaryNotFound)
		return
	}
	JSON(w, http.StatusOK, summary)
}

// BuildingInfo describes a building of the session's site.
func (h *ChatHandler) BuildingInfo(w http.ResponseWriter, r *http.Request) {
	sessionID, buildingID, ok := h.buildingRequest(w, r)
	if !ok {
		return
	}
	info, err := h.svc.RequestBuildingInfo(r.Context(), sessionID, buildingID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"building_id": info.BuildingID,
		"name":        info.Name,
		"image_url":   info.ImageURL,
		"response":    info.Response,
	})
}

// BuildingQuiz generates a quiz about a building.
func (h *ChatHandler) BuildingQuiz(w http.ResponseWriter, r *http.Request) {
	sessionID, buildingID, ok := h.buildingRequest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RequestBuildingQuiz(r.Context(), sessionID, buildingID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"quiz":      res.Quiz,
		"remaining": res.Remaining,
	})
}

// RecommendQuestions suggests questions about a building.
func (h *ChatHandler) RecommendQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID, buildingID, ok := h.buildingRequest(w, r)
	if !ok {
		return
	}
	questions, err := h.svc.RequestRecommendedQuestions(r.Context(), sessionID, buildingID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

// MessageQuestions returns the stored follow-up questions.
func (h *ChatHandler) MessageQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	questions, err := h.svc.MessageQuestions(r.Context(), sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

// GenerateMessageQuestions refreshes the follow-up questions from the latest reply.
func (h *ChatHandler) GenerateMessageQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.limitedSession(w, r)
	if !ok {
		return
	}
	questions, err := h.svc.GenerateMessageQuestions(r.Context(), sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *ChatHandler) buildingRequest(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	sessionID, ok := h.limitedSession(w, r)
	if !ok {
		return 0, 0, false
	}
	var req BuildingRequest
	if !decodeJSON(w, r, &req) {
		return 0, 0, false
	}
	if req.BuildingID <= 0 {
		Error(w, http.StatusBadRequest, "building_id is required")
		return 0, 0, false
	}
	return sessionID, req.BuildingID, true
}

// limitedSession parses the session id and applies the per-session rate limit.
func (h *ChatHandler) limitedSession(w http.ResponseWriter, r *http.Request) (int64, bool) {
	sessionID, ok := idParam(w, r, "id")
	if !ok {
		return 0, false
	}
	if h.limiter != nil && !h.limiter.Allow(sessionKey(sessionID)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return 0, false
	}
	return sessionID, true
}

func sessionKey(sessionID int64) string {
	return "session:" + strconv.FormatInt(sessionID, 10)
}
