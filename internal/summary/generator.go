package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/prompt"
)

// CourseSeparator joins visited building names in the summary request.
const CourseSeparator = "->"

// Completer runs a one-shot model request.
type Completer interface {
	Complete(ctx context.Context, sessionID int64, kind prompt.Kind, heritageName, subject string) (string, error)
}

// Store persists generated summaries.
type Store interface {
	SaveSummary(ctx context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error
}

// Generator asks the model for keywords describing a finished tour.
type Generator struct {
	model  Completer
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(model Completer, store Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{model: model, store: store, now: time.Now, logger: logger}
}

// Course returns the names of the visited buildings joined in visit order.
func Course(visited []domain.VisitedBuilding) string {
	names := make([]string, 0, len(visited))
	for _, b := range visited {
		if b.Visited {
			names = append(names, b.Name)
		}
	}
	return strings.Join(names, CourseSeparator)
}

// GenerateAndPersist builds the course string, asks the model for hashtags and
// stores them together with the visited list. An empty course stores an empty
// summary without calling the model.
func (g *Generator) GenerateAndPersist(ctx context.Context, sessionID int64, heritageName string, visited []domain.VisitedBuilding) ([]string, error) {
	course := Course(visited)

	keywords := []string{}
	if course != "" {
		text, err := g.model.Complete(ctx, sessionID, prompt.KindSummary, heritageName, course)
		if err != nil {
			return nil, fmt.Errorf("generate summary: %w", err)
		}
		keywords = ExtractHashtags(text)
	}

	g.logger.Info("Summary generated",
		"session_id", sessionID,
		"course", course,
		"keywords", keywords,
	)

	if err := g.store.SaveSummary(ctx, sessionID, keywords, visited, g.now()); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}
	return keywords, nil
}
