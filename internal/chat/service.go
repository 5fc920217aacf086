// Package chat orchestrates tour-guide conversations: session lifecycle,
// chat turns, building info, quizzes, follow-up questions and summaries.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/heritage-guide/internal/conversation"
	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/prompt"
	"github.com/ashureev/heritage-guide/internal/quiz"
	"github.com/ashureev/heritage-guide/internal/store"
	"github.com/ashureev/heritage-guide/internal/summary"
)

const maxRecommendedQuestions = 3

var questionNumberRe = regexp.MustCompile(`^\d+\.\s*`)

// Options tunes the orchestrator.
type Options struct {
	MaxWindowSize       int
	WindowMaxTokens     int
	InitialQuizCount    int
	QuizMaxAttempts     int
	QuizRetryDelay      time.Duration
	SummaryTimeout      time.Duration
	RecommendAfterReply bool
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		MaxWindowSize:    10,
		WindowMaxTokens:  3000,
		InitialQuizCount: 3,
		QuizMaxAttempts:  3,
		QuizRetryDelay:   time.Second,
		SummaryTimeout:   60 * time.Second,
	}
}

// SessionOverview is a session together with the routes of its heritage site.
type SessionOverview struct {
	Session *domain.Session
	Routes  []domain.Route
	Resumed bool
}

// BuildingInfo is the guide's description of a building.
type BuildingInfo struct {
	BuildingID int64
	Name       string
	ImageURL   string
	Response   string
}

// QuizResult is a freshly generated quiz and the quota left after it.
type QuizResult struct {
	Quiz      *domain.Quiz
	Remaining int
}

// Service is the conversation orchestrator.
type Service struct {
	repo      store.Repository
	dispatch  *dispatcher
	summaries *summary.Generator
	locks     *keyedMutex
	tasks     *taskGroup
	convLog   ConversationLogger
	opts      Options
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService wires the orchestrator. convLog may be nil.
func NewService(repo store.Repository, model Model, prompts *prompt.Set, opts Options, convLog ConversationLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if opts.QuizMaxAttempts < 1 {
		opts.QuizMaxAttempts = 1
	}

	d := &dispatcher{
		model:           model,
		prompts:         prompts,
		windowMaxTokens: opts.WindowMaxTokens,
		logger:          logger,
	}
	return &Service{
		repo:      repo,
		dispatch:  d,
		summaries: summary.NewGenerator(d, repo, logger),
		locks:     newKeyedMutex(),
		tasks:     newTaskGroup(logger),
		convLog:   convLog,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// CreateSession opens a session for a user at a heritage site. An open
// session for the same pair is returned instead of creating a second one.
func (s *Service) CreateSession(ctx context.Context, userID, heritageID int64) (*SessionOverview, error) {
	unlock := s.locks.Lock("create:" + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(heritageID, 10))
	defer unlock()

	heritage, err := s.repo.GetHeritage(ctx, heritageID)
	if err != nil {
		return nil, wrap("create session", err)
	}
	if heritage == nil {
		return nil, domain.ErrHeritageNotFound
	}

	routes, err := s.repo.ListRoutes(ctx, heritageID)
	if err != nil {
		return nil, wrap("create session", err)
	}

	active, err := s.repo.FindActiveSession(ctx, userID, heritageID)
	if err != nil {
		return nil, wrap("create session", err)
	}
	if active != nil {
		return &SessionOverview{Session: active, Routes: routes, Resumed: true}, nil
	}

	sess, err := s.repo.CreateSession(ctx, &domain.Session{
		UserID:       userID,
		HeritageID:   heritageID,
		HeritageName: heritage.Name,
		StartTime:    s.now().UTC(),
		QuizCount:    s.opts.InitialQuizCount,
		SlidingWindow: []domain.Message{
			{Role: domain.RoleSystem, Content: s.dispatch.prompts.ChatSystemPrompt(heritage.Name)},
		},
	})
	if err != nil {
		return nil, wrap("create session", err)
	}

	s.logger.Info("Chat session created",
		"session_id", sess.ID,
		"user_id", userID,
		"heritage_id", heritageID,
	)
	s.convLog.Log(ConversationLogEvent{
		UserID:    userID,
		SessionID: sess.ID,
		Channel:   "chat",
		Direction: "inbound",
		EventType: "session_created",
		Content:   heritage.Name,
	})
	return &SessionOverview{Session: sess, Routes: routes}, nil
}

// SubmitUserMessage records a user message, asks the model for a reply and
// stores both. The user turn is persisted even when the model call fails.
func (s *Service) SubmitUserMessage(ctx context.Context, sessionID int64, content string) (*domain.Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrEmptyMessage
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, wrap("submit message", err)
	}

	if _, err := s.repo.CreateTurn(ctx, &domain.Turn{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: s.now().UTC(),
	}); err != nil {
		return nil, wrap("submit message", err)
	}
	s.convLog.Log(ConversationLogEvent{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Channel:   "chat",
		Direction: "inbound",
		EventType: "chat_user_message",
		Content:   content,
	})

	full := conversation.AppendTurn(sess.FullConversation, domain.RoleUser, content)
	window := conversation.AppendTurn(sess.SlidingWindow, domain.RoleUser, content)

	res, err := s.dispatch.Invoke(ctx, Request{
		Kind:         prompt.KindChat,
		SessionID:    sessionID,
		HeritageName: sess.HeritageName,
		Window:       window,
	})
	if err != nil {
		s.logger.Error("Chat completion failed", "session_id", sessionID, "error", err)
		return nil, wrap("submit message", err)
	}

	full = conversation.AppendTurn(full, domain.RoleAssistant, res.Text)
	window = conversation.TrimWindow(conversation.AppendTurn(res.Window, domain.RoleAssistant, res.Text), s.opts.MaxWindowSize)

	var reply *domain.Turn
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		reply, err = tx.CreateTurn(ctx, &domain.Turn{
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   res.Text,
			Timestamp: s.now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.UpdateConversation(ctx, sessionID, full, window)
	})
	if err != nil {
		return nil, wrap("submit message", err)
	}

	s.convLog.Log(ConversationLogEvent{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Channel:   "chat",
		Direction: "outbound",
		EventType: "chat_assistant_reply",
		Content:   res.Text,
		Meta:      map[string]any{"window_size": len(window)},
	})

	if s.opts.RecommendAfterReply {
		heritageName := sess.HeritageName
		s.tasks.Go("message questions", sessionID, func(ctx context.Context) error {
			return s.refreshMessageQuestions(ctx, sessionID, heritageName, res.Text)
		})
	}
	return reply, nil
}

// RequestBuildingInfo asks the guide to describe a building of the session's site.
func (s *Service) RequestBuildingInfo(ctx context.Context, sessionID, buildingID int64) (*BuildingInfo, error) {
	sess, building, err := s.sessionBuilding(ctx, sessionID, buildingID)
	if err != nil {
		return nil, wrap("building info", err)
	}

	text, err := s.dispatch.Complete(ctx, sessionID, prompt.KindInfo, sess.HeritageName, building.Name)
	if err != nil {
		return nil, wrap("building info", err)
	}

	images, err := s.repo.ListBuildingImages(ctx, buildingID)
	if err != nil {
		return nil, wrap("building info", err)
	}
	info := &BuildingInfo{BuildingID: building.ID, Name: building.Name, Response: text}
	if len(images) > 0 {
		info.ImageURL = images[0].URL
	}

	s.convLog.Log(ConversationLogEvent{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Channel:   "chat",
		Direction: "outbound",
		EventType: "building_info",
		Content:   text,
		Meta:      map[string]any{"building_id": buildingID},
	})
	return info, nil
}

// RequestBuildingQuiz generates a quiz about a building and spends one unit
// of the session's quiz quota. The quota is untouched when generation fails.
func (s *Service) RequestBuildingQuiz(ctx context.Context, sessionID, buildingID int64) (*QuizResult, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, building, err := s.sessionBuilding(ctx, sessionID, buildingID)
	if err != nil {
		return nil, wrap("building quiz", err)
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionEnded
	}
	if sess.QuizCount <= 0 {
		return nil, domain.ErrNoQuizAvailable
	}

	parsed, err := s.generateQuizWithRetry(ctx, sess, building.Name)
	if err != nil {
		return nil, wrap("building quiz", err)
	}

	result := &QuizResult{}
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		remaining, err := tx.DecrementQuizCount(ctx, sessionID)
		if err != nil {
			return err
		}
		saved, err := tx.CreateQuiz(ctx, &domain.Quiz{
			SessionID:   sessionID,
			Question:    parsed.Question,
			Options:     parsed.Options,
			Answer:      parsed.Answer,
			Explanation: parsed.Explanation,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		result.Quiz = saved
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, wrap("building quiz", err)
	}

	s.logger.Info("Quiz generated",
		"session_id", sessionID,
		"building_id", buildingID,
		"remaining", result.Remaining,
	)
	s.convLog.Log(ConversationLogEvent{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Channel:   "chat",
		Direction: "outbound",
		EventType: "quiz_generated",
		Content:   parsed.Question,
		Meta:      map[string]any{"building_id": buildingID, "answer": parsed.Answer},
	})
	return result, nil
}

func (s *Service) generateQuizWithRetry(ctx context.Context, sess *domain.Session, buildingName string) (*quiz.Parsed, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.QuizMaxAttempts; attempt++ {
		parsed, err := s.generateQuiz(ctx, sess, buildingName)
		if err == nil {
			return parsed, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		s.logger.Warn("Quiz generation attempt failed",
			"session_id", sess.ID,
			"building", buildingName,
			"attempt", attempt,
			"error", err,
		)
		if attempt < s.opts.QuizMaxAttempts {
			if err := s.sleep(ctx, s.opts.QuizRetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %d attempts for %q: %v", domain.ErrQuizGeneration, s.opts.QuizMaxAttempts, buildingName, lastErr)
}

func (s *Service) generateQuiz(ctx context.Context, sess *domain.Session, buildingName string) (*quiz.Parsed, error) {
	text, err := s.dispatch.Complete(ctx, sess.ID, prompt.KindQuiz, sess.HeritageName, buildingName)
	if err != nil {
		return nil, err
	}
	parsed, err := quiz.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := quiz.Validate(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// RequestRecommendedQuestions suggests up to three questions about a building.
func (s *Service) RequestRecommendedQuestions(ctx context.Context, sessionID, buildingID int64) ([]string, error) {
	sess, building, err := s.sessionBuilding(ctx, sessionID, buildingID)
	if err != nil {
		return nil, wrap("recommend questions", err)
	}
	text, err := s.dispatch.Complete(ctx, sessionID, prompt.KindRecommend, sess.HeritageName, building.Name)
	if err != nil {
		return nil, wrap("recommend questions", err)
	}
	return splitQuestions(text), nil
}

// MessageQuestions returns the follow-up questions stored for the latest reply.
func (s *Service) MessageQuestions(ctx context.Context, sessionID int64) ([]string, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, wrap("message questions", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	questions, err := s.repo.ListRecommendedQuestions(ctx, sessionID)
	if err != nil {
		return nil, wrap("message questions", err)
	}
	return questions, nil
}

// GenerateMessageQuestions derives follow-up questions from the latest
// assistant reply and stores them.
func (s *Service) GenerateMessageQuestions(ctx context.Context, sessionID int64) ([]string, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, wrap("message questions", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	last, err := s.repo.GetLatestTurn(ctx, sessionID, domain.RoleAssistant)
	if err != nil {
		return nil, wrap("message questions", err)
	}
	if last == nil {
		return []string{}, nil
	}
	if err := s.refreshMessageQuestions(ctx, sessionID, sess.HeritageName, last.Content); err != nil {
		return nil, wrap("message questions", err)
	}
	return s.MessageQuestions(ctx, sessionID)
}

func (s *Service) refreshMessageQuestions(ctx context.Context, sessionID int64, heritageName, reply string) error {
	text, err := s.dispatch.Complete(ctx, sessionID, prompt.KindMessageQuestions, heritageName, reply)
	if err != nil {
		return err
	}
	return s.repo.ReplaceRecommendedQuestions(ctx, sessionID, splitQuestions(text))
}

// EndSession closes a session and starts summary generation in the
// background. Ending an ended session returns it unchanged.
func (s *Service) EndSession(ctx context.Context, sessionID int64, visited []domain.VisitedBuilding) (*domain.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, wrap("end session", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	if !sess.IsActive() {
		return sess, nil
	}

	at := s.now().UTC()
	ended, err := s.repo.EndSession(ctx, sessionID, at)
	if err != nil {
		return nil, wrap("end session", err)
	}
	if !ended {
		sess, err = s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, wrap("end session", err)
		}
		return sess, nil
	}
	sess.EndTime = &at

	s.logger.Info("Chat session ended", "session_id", sessionID, "visited", len(visited))
	s.convLog.Log(ConversationLogEvent{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Channel:   "chat",
		Direction: "inbound",
		EventType: "session_ended",
		Content:   summary.Course(visited),
	})

	heritageName := sess.HeritageName
	visited = append([]domain.VisitedBuilding(nil), visited...)
	s.tasks.Go("summary", sessionID, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.SummaryTimeout)
		defer cancel()
		_, err := s.summaries.GenerateAndPersist(ctx, sessionID, heritageName, visited)
		return err
	})
	return sess, nil
}

// SessionStatus reports whether a session has ended.
func (s *Service) SessionStatus(ctx context.Context, sessionID int64) (bool, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, wrap("session status", err)
	}
	if sess == nil {
		return false, domain.ErrSessionNotFound
	}
	return !sess.IsActive(), nil
}

// GetSummary returns the stored summary of a session, or nil when it has not
// been generated yet.
func (s *Service) GetSummary(ctx context.Context, sessionID int64) (*domain.Summary, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, wrap("get summary", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	if !sess.HasSummary() {
		return nil, nil
	}

	course := make([]string, 0, len(sess.VisitedBuildings))
	for _, b := range sess.VisitedBuildings {
		if b.Visited {
			course = append(course, b.Name)
		}
	}

	keywords := make([]string, 0, len(sess.SummaryKeywords))
	seen := make(map[string]bool)
	for _, kw := range sess.SummaryKeywords {
		for _, tag := range summary.ExtractHashtags("#" + strings.TrimPrefix(kw, "#")) {
			if !seen[tag] {
				seen[tag] = true
				keywords = append(keywords, tag)
			}
		}
	}

	return &domain.Summary{
		ChatDate:       sess.StartTime,
		HeritageName:   sess.HeritageName,
		BuildingCourse: course,
		Keywords:       keywords,
	}, nil
}

// Shutdown waits for background work until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.tasks.Shutdown(ctx)
}

func (s *Service) lockSession(sessionID int64) func() {
	return s.locks.Lock("session:" + strconv.FormatInt(sessionID, 10))
}

func (s *Service) activeSession(ctx context.Context, sessionID int64) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	if !sess.IsActive() {
		return nil, domain.ErrSessionEnded
	}
	return sess, nil
}

// sessionBuilding loads a session and a building and checks that the
// building belongs to the session's heritage site.
func (s *Service) sessionBuilding(ctx context.Context, sessionID, buildingID int64) (*domain.Session, *domain.Building, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, domain.ErrSessionNotFound
	}
	building, err := s.repo.GetBuilding(ctx, buildingID)
	if err != nil {
		return nil, nil, err
	}
	if building == nil {
		return nil, nil, domain.ErrBuildingNotFound
	}
	if building.HeritageID != sess.HeritageID {
		return nil, nil, domain.ErrInvalidAssociation
	}
	return sess, building, nil
}

func splitQuestions(text string) []string {
	questions := make([]string, 0, maxRecommendedQuestions)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(questionNumberRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == maxRecommendedQuestions {
			break
		}
	}
	return questions
}

// wrap passes classified errors through and tags the rest with op.
func wrap(op string, err error) error {
	if err == nil || domain.IsClassified(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.ServiceError{Op: op, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
