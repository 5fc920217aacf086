package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
)

// MemoryStore is an in-process Repository for development and tests.
// Transactions are serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	heritages map[int64]domain.Heritage
	buildings map[int64]domain.Building
	images    map[int64][]domain.BuildingImage
	routes    map[int64]domain.Route
	sessions  map[int64]domain.Session
	turns     []domain.Turn
	quizzes   []domain.Quiz
	questions map[int64][]string

	nextSession int64
	nextTurn    int64
	nextQuiz    int64
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		heritages: make(map[int64]domain.Heritage),
		buildings: make(map[int64]domain.Building),
		images:    make(map[int64][]domain.BuildingImage),
		routes:    make(map[int64]domain.Route),
		sessions:  make(map[int64]domain.Session),
		questions: make(map[int64][]string),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

type memorySnapshot struct {
	heritages map[int64]domain.Heritage
	buildings map[int64]domain.Building
	images    map[int64][]domain.BuildingImage
	routes    map[int64]domain.Route
	sessions  map[int64]domain.Session
	turns     []domain.Turn
	quizzes   []domain.Quiz
	questions map[int64][]string
	counters  [3]int64
}

// WithTx runs fn and restores the previous state if it fails.
func (m *MemoryStore) WithTx(_ context.Context, fn func(tx Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snap := memorySnapshot{
		heritages: maps.Clone(m.heritages),
		buildings: maps.Clone(m.buildings),
		images:    maps.Clone(m.images),
		routes:    maps.Clone(m.routes),
		sessions:  maps.Clone(m.sessions),
		turns:     slices.Clone(m.turns),
		quizzes:   slices.Clone(m.quizzes),
		questions: maps.Clone(m.questions),
		counters:  [3]int64{m.nextSession, m.nextTurn, m.nextQuiz},
	}
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.heritages, m.buildings, m.images, m.routes = snap.heritages, snap.buildings, snap.images, snap.routes
		m.sessions, m.turns, m.quizzes, m.questions = snap.sessions, snap.turns, snap.quizzes, snap.questions
		m.nextSession, m.nextTurn, m.nextQuiz = snap.counters[0], snap.counters[1], snap.counters[2]
		m.mu.Unlock()
		return err
	}
	return nil
}

// GetHeritage retrieves a heritage site by ID.
func (m *MemoryStore) GetHeritage(_ context.Context, heritageID int64) (*domain.Heritage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.heritages[heritageID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// GetBuilding retrieves a building by ID.
func (m *MemoryStore) GetBuilding(_ context.Context, buildingID int64) (*domain.Building, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buildings[buildingID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// ListBuildingImages returns the images of a building ordered by image order.
func (m *MemoryStore) ListBuildingImages(_ context.Context, buildingID int64) ([]domain.BuildingImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	images := slices.Clone(m.images[buildingID])
	sort.SliceStable(images, func(i, j int) bool { return images[i].Order < images[j].Order })
	return images, nil
}

// ListRoutes returns the routes of a heritage site with their stops in visit order.
func (m *MemoryStore) ListRoutes(_ context.Context, heritageID int64) ([]domain.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var routes []domain.Route
	for _, r := range m.routes {
		if r.HeritageID != heritageID {
			continue
		}
		stops := make([]domain.RouteStop, 0, len(r.Buildings))
		for _, stop := range r.Buildings {
			if b, ok := m.buildings[stop.BuildingID]; ok {
				stop.Name = b.Name
				stop.Coordinate = b.Coordinate()
			}
			stops = append(stops, stop)
		}
		sort.SliceStable(stops, func(i, j int) bool { return stops[i].VisitOrder < stops[j].VisitOrder })
		r.Buildings = stops
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

// SaveHeritage inserts or replaces a heritage site with its buildings, images and routes.
func (m *MemoryStore) SaveHeritage(_ context.Context, bundle *domain.HeritageBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heritages[bundle.Heritage.ID] = bundle.Heritage
	for _, b := range bundle.Buildings {
		b.HeritageID = bundle.Heritage.ID
		m.buildings[b.ID] = b
		delete(m.images, b.ID)
	}
	for _, img := range bundle.Images {
		m.images[img.BuildingID] = append(m.images[img.BuildingID], img)
	}
	for _, r := range bundle.Routes {
		r.HeritageID = bundle.Heritage.ID
		r.Buildings = slices.Clone(r.Buildings)
		m.routes[r.ID] = r
	}
	return nil
}

// CreateSession inserts a new session and returns it with its assigned ID.
func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSession++
	now := time.Now()
	s := *session
	s.ID = m.nextSession
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.ID] = s
	return &s, nil
}

// GetSession retrieves a session by ID.
func (m *MemoryStore) GetSession(_ context.Context, sessionID int64) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// FindActiveSession returns the open session of a user for a heritage site.
func (m *MemoryStore) FindActiveSession(_ context.Context, userID, heritageID int64) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.HeritageID == heritageID && s.EndTime == nil {
			if found == nil || s.ID > found.ID {
				sess := s
				found = &sess
			}
		}
	}
	return found, nil
}

// update applies fn to a stored session under the write lock.
func (m *MemoryStore) update(sessionID int64, fn func(s *domain.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	fn(&s)
	s.UpdatedAt = time.Now()
	m.sessions[sessionID] = s
	return nil
}

// ListIdleSessions returns the ids of open sessions not updated since before.
func (m *MemoryStore) ListIdleSessions(_ context.Context, before time.Time) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, s := range m.sessions {
		if s.EndTime == nil && s.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// EndSession sets the end time of an open session.
func (m *MemoryStore) EndSession(_ context.Context, sessionID int64, at time.Time) (bool, error) {
	ended := false
	err := m.update(sessionID, func(s *domain.Session) {
		if s.EndTime == nil {
			t := at
			s.EndTime = &t
			ended = true
		}
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	return ended, err
}

// UpdateConversation replaces the full history and sliding window of a session.
func (m *MemoryStore) UpdateConversation(_ context.Context, sessionID int64, full, window []domain.Message) error {
	return m.update(sessionID, func(s *domain.Session) {
		s.FullConversation = slices.Clone(full)
		s.SlidingWindow = slices.Clone(window)
	})
}

// DecrementQuizCount lowers the remaining quiz count by one, never below zero.
func (m *MemoryStore) DecrementQuizCount(_ context.Context, sessionID int64) (int, error) {
	var count int
	err := m.update(sessionID, func(s *domain.Session) {
		s.QuizCount = max(s.QuizCount-1, 0)
		count = s.QuizCount
	})
	return count, err
}

// SaveSummary stores the summary keywords and visited course of a session.
func (m *MemoryStore) SaveSummary(_ context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error {
	return m.update(sessionID, func(s *domain.Session) {
		t := at
		s.SummaryKeywords = slices.Clone(keywords)
		s.VisitedBuildings = slices.Clone(visited)
		s.SummaryGeneratedAt = &t
	})
}

// CreateTurn appends a chat turn.
func (m *MemoryStore) CreateTurn(_ context.Context, turn *domain.Turn) (*domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[turn.SessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	m.nextTurn++
	t := *turn
	t.ID = m.nextTurn
	m.turns = append(m.turns, t)
	return &t, nil
}

// GetLatestTurn returns the most recent turn of a session with the given role.
func (m *MemoryStore) GetLatestTurn(_ context.Context, sessionID int64, role domain.Role) (*domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.turns) - 1; i >= 0; i-- {
		if t := m.turns[i]; t.SessionID == sessionID && t.Role == role {
			return &t, nil
		}
	}
	return nil, nil
}

// CreateQuiz stores a generated quiz.
func (m *MemoryStore) CreateQuiz(_ context.Context, quiz *domain.Quiz) (*domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQuiz++
	q := *quiz
	q.ID = m.nextQuiz
	q.Options = slices.Clone(quiz.Options)
	m.quizzes = append(m.quizzes, q)
	return &q, nil
}

// Quizzes returns every stored quiz of a session.
func (m *MemoryStore) Quizzes(sessionID int64) []domain.Quiz {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Quiz
	for _, q := range m.quizzes {
		if q.SessionID == sessionID {
			out = append(out, q)
		}
	}
	return out
}

// Turns returns every stored turn of a session in insertion order.
func (m *MemoryStore) Turns(sessionID int64) []domain.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Turn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// ReplaceRecommendedQuestions swaps the stored follow-up questions of a session.
func (m *MemoryStore) ReplaceRecommendedQuestions(_ context.Context, sessionID int64, questions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[sessionID] = slices.Clone(questions)
	return nil
}

// ListRecommendedQuestions returns the stored follow-up questions of a session.
func (m *MemoryStore) ListRecommendedQuestions(_ context.Context, sessionID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.questions[sessionID])
	if out == nil {
		out = []string{}
	}
	return out, nil
}
