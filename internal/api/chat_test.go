package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/heritage-guide/internal/chat"
	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/go-chi/chi/v5"
)

// stubService implements ChatService with overridable behavior.
type stubService struct {
	createFn    func(userID, heritageID int64) (*chat.SessionOverview, error)
	submitFn    func(sessionID int64, content string) (*domain.Turn, error)
	infoFn      func(sessionID, buildingID int64) (*chat.BuildingInfo, error)
	quizFn      func(sessionID, buildingID int64) (*chat.QuizResult, error)
	recommendFn func(sessionID, buildingID int64) ([]string, error)
	endFn       func(sessionID int64, visited []domain.VisitedBuilding) (*domain.Session, error)
	summaryFn   func(sessionID int64) (*domain.Summary, error)
	statusErr   error
}

func (s *stubService) CreateSession(_ context.Context, userID, heritageID int64) (*chat.SessionOverview, error) {
	return s.createFn(userID, heritageID)
}

func (s *stubService) SubmitUserMessage(_ context.Context, sessionID int64, content string) (*domain.Turn, error) {
	if s.submitFn != nil {
		return s.submitFn(sessionID, content)
	}
	return &domain.Turn{ID: 1, SessionID: sessionID, Role: domain.RoleAssistant, Content: "답변: " + content}, nil
}

func (s *stubService) RequestBuildingInfo(_ context.Context, sessionID, buildingID int64) (*chat.BuildingInfo, error) {
	return s.infoFn(sessionID, buildingID)
}

func (s *stubService) RequestBuildingQuiz(_ context.Context, sessionID, buildingID int64) (*chat.QuizResult, error) {
	return s.quizFn(sessionID, buildingID)
}

func (s *stubService) RequestRecommendedQuestions(_ context.Context, sessionID, buildingID int64) ([]string, error) {
	return s.recommendFn(sessionID, buildingID)
}

func (s *stubService) MessageQuestions(context.Context, int64) ([]string, error) {
	return []string{"다음 질문"}, nil
}

func (s *stubService) GenerateMessageQuestions(context.Context, int64) ([]string, error) {
	return []string{"새 질문"}, nil
}

func (s *stubService) EndSession(_ context.Context, sessionID int64, visited []domain.VisitedBuilding) (*domain.Session, error) {
	return s.endFn(sessionID, visited)
}

func (s *stubService) SessionStatus(context.Context, int64) (bool, error) {
	return false, s.statusErr
}

func (s *stubService) GetSummary(_ context.Context, sessionID int64) (*domain.Summary, error) {
	return s.summaryFn(sessionID)
}

func newTestRouter(svc ChatService, limiter *RateLimiter, sockets *SocketRegistry) http.Handler {
	r := chi.NewRouter()
	NewChatHandler(svc, limiter, sockets).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateSessionHandler(t *testing.T) {
	svc := &stubService{
		createFn: func(userID, heritageID int64) (*chat.SessionOverview, error) {
			if heritageID == 99 {
				return nil, domain.ErrHeritageNotFound
			}
			return &chat.SessionOverview{
				Session: &domain.Session{ID: 5, UserID: userID, HeritageID: heritageID, HeritageName: "경복궁", QuizCount: 3},
				Resumed: userID == 2,
			}, nil
		},
	}
	h := newTestRouter(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat/sessions", `{"user_id":1,"heritage_id":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var got SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != 5 || got.HeritageName != "경복궁" || got.Routes == nil {
		t.Errorf("Unexpected response: %+v", got)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions", `{"user_id":2,"heritage_id":1}`); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for resumed session, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions", `{"user_id":1,"heritage_id":99}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions", `{"user_id":1}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad body, got %d", w.Code)
	}
}

func TestSubmitMessageHandler(t *testing.T) {
	svc := &stubService{
		submitFn: func(sessionID int64, content string) (*domain.Turn, error) {
			if strings.TrimSpace(content) == "" {
				return nil, domain.ErrEmptyMessage
			}
			return &domain.Turn{ID: 9, SessionID: sessionID, Role: domain.RoleAssistant, Content: "근정전은 정전입니다."}, nil
		},
	}
	h := newTestRouter(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/3/messages", `{"content":"근정전?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var turn domain.Turn
	if err := json.Unmarshal(w.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.SessionID != 3 || turn.Role != domain.RoleAssistant {
		t.Errorf("Unexpected turn: %+v", turn)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/3/messages", `{"content":" "}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty message, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/abc/messages", `{"content":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", w.Code)
	}
}

func TestBuildingHandlersMapErrors(t *testing.T) {
	svc := &stubService{
		infoFn: func(_, buildingID int64) (*chat.BuildingInfo, error) {
			if buildingID == 201 {
				return nil, domain.ErrInvalidAssociation
			}
			return nil, &domain.APICallError{API: "chat completion", StatusCode: 500, Message: "boom"}
		},
		quizFn: func(int64, int64) (*chat.QuizResult, error) {
			return nil, domain.ErrNoQuizAvailable
		},
		recommendFn: func(int64, int64) ([]string, error) {
			return []string{"왜?", "언제?"}, nil
		},
	}
	h := newTestRouter(svc, nil, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"info wrong heritage", "/api/v1/chat/1/heritage/buildings/info", `{"building_id":201}`, http.StatusBadRequest},
		{"info upstream failure", "/api/v1/chat/1/heritage/buildings/info", `{"building_id":101}`, http.StatusBadGateway},
		{"info missing building", "/api/v1/chat/1/heritage/buildings/info", `{}`, http.StatusBadRequest},
		{"quiz quota", "/api/v1/chat/1/heritage/buildings/quiz", `{"building_id":101}`, http.StatusForbidden},
		{"recommend", "/api/v1/chat/1/building/recommend-questions", `{"building_id":101}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, tt.path, tt.body); w.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestQuizHandlerSuccess(t *testing.T) {
	svc := &stubService{
		quizFn: func(sessionID, _ int64) (*chat.QuizResult, error) {
			return &chat.QuizResult{
				Quiz:      &domain.Quiz{ID: 1, SessionID: sessionID, Question: "질문", Options: []string{"가", "나"}, Answer: "1", Explanation: "해설"},
				Remaining: 2,
			}, nil
		},
	}
	h := newTestRouter(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat/4/heritage/buildings/quiz", `{"building_id":102}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got struct {
		Quiz      domain.Quiz `json:"quiz"`
		Remaining int         `json:"remaining"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Remaining != 2 || got.Quiz.Answer != "1" || len(got.Quiz.Options) != 2 {
		t.Errorf("Unexpected quiz response: %+v", got)
	}
}

func TestEndSessionAndSummaryHandlers(t *testing.T) {
	ended := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var gotVisited []domain.VisitedBuilding
	svc := &stubService{
		endFn: func(sessionID int64, visited []domain.VisitedBuilding) (*domain.Session, error) {
			gotVisited = visited
			return &domain.Session{ID: sessionID, EndTime: &ended}, nil
		},
		summaryFn: func(sessionID int64) (*domain.Summary, error) {
			if sessionID == 1 {
				return nil, nil
			}
			return &domain.Summary{ChatDate: ended, HeritageName: "경복궁", BuildingCourse: []string{"광화문"}, Keywords: []string{"#경복궁"}}, nil
		},
	}
	h := newTestRouter(svc, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/1/end", `{"buildings":[{"name":"광화문","visited":true},{"name":"경회루","visited":false}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if len(gotVisited) != 2 || !gotVisited[0].Visited || gotVisited[1].Name != "경회루" {
		t.Errorf("Unexpected visited buildings: %+v", gotVisited)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/chat/sessions/1/summary", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before summary exists, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/chat/sessions/2/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"building_course":["광화문"]`) {
		t.Errorf("Unexpected summary body: %s", w.Body.String())
	}

	if w := do(t, h, http.MethodGet, "/api/v1/chat/sessions/2/status", ""); !strings.Contains(w.Body.String(), `"ended":false`) {
		t.Errorf("Unexpected status body: %s", w.Body.String())
	}
}

func TestMessageQuestionsHandlers(t *testing.T) {
	h := newTestRouter(&stubService{}, nil, nil)

	if w := do(t, h, http.MethodGet, "/api/v1/chat/3/message/recommend-questions", ""); !strings.Contains(w.Body.String(), "다음 질문") {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/3/message/recommend-questions", ""); !strings.Contains(w.Body.String(), "새 질문") {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
}

func TestRateLimitedRoutes(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	h := newTestRouter(&stubService{}, limiter, nil)

	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/7/messages", `{"content":"a"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/7/messages", `{"content":"b"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/chat/sessions/8/messages", `{"content":"c"}`); w.Code != http.StatusOK {
		t.Errorf("Expected other sessions to be unaffected, got %d", w.Code)
	}
}
