// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
)

// Repository defines the interface for persisting sessions, turns and heritage data.
//
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// WithTx runs fn with a repository bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	// GetHeritage retrieves a heritage site by ID.
	GetHeritage(ctx context.Context, heritageID int64) (*domain.Heritage, error)

	// GetBuilding retrieves a building by ID.
	GetBuilding(ctx context.Context, buildingID int64) (*domain.Building, error)

	// ListBuildingImages returns the images of a building ordered by image order.
	ListBuildingImages(ctx context.Context, buildingID int64) ([]domain.BuildingImage, error)

	// ListRoutes returns the routes of a heritage site with their stops in visit order.
	ListRoutes(ctx context.Context, heritageID int64) ([]domain.Route, error)

	// SaveHeritage inserts or replaces a heritage site with its buildings, images and routes.
	SaveHeritage(ctx context.Context, bundle *domain.HeritageBundle) error

	// CreateSession inserts a new session and returns it with its assigned ID.
	CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID int64) (*domain.Session, error)

	// FindActiveSession returns the open session of a user for a heritage site.
	FindActiveSession(ctx context.Context, userID, heritageID int64) (*domain.Session, error)

	// ListIdleSessions returns the ids of open sessions not updated since before.
	ListIdleSessions(ctx context.Context, before time.Time) ([]int64, error)

	// EndSession sets the end time of an open session. It reports false when
	// the session was already ended.
	EndSession(ctx context.Context, sessionID int64, at time.Time) (bool, error)

	// UpdateConversation replaces the full history and sliding window of a session.
	UpdateConversation(ctx context.Context, sessionID int64, full, window []domain.Message) error

	// DecrementQuizCount lowers the remaining quiz count by one, never below
	// zero, and returns the new value.
	DecrementQuizCount(ctx context.Context, sessionID int64) (int, error)

	// SaveSummary stores the summary keywords and visited course of a session.
	SaveSummary(ctx context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error

	// CreateTurn appends a chat turn.
	CreateTurn(ctx context.Context, turn *domain.Turn) (*domain.Turn, error)

	// GetLatestTurn returns the most recent turn of a session with the given role.
	GetLatestTurn(ctx context.Context, sessionID int64, role domain.Role) (*domain.Turn, error)

	// CreateQuiz stores a generated quiz.
	CreateQuiz(ctx context.Context, quiz *domain.Quiz) (*domain.Quiz, error)

	// ReplaceRecommendedQuestions swaps the stored follow-up questions of a session.
	ReplaceRecommendedQuestions(ctx context.Context, sessionID int64, questions []string) error

	// ListRecommendedQuestions returns the stored follow-up questions of a session.
	ListRecommendedQuestions(ctx context.Context, sessionID int64) ([]string, error)
}
