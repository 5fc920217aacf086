package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQueryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    pgQueryer
	tx   bool
}

// NewPostgres connects to databaseURL. The schema must already be migrated with MigrateUp.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool, q: pool}, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if !s.tx {
		s.pool.Close()
	}
	return nil
}

// WithTx runs fn inside a transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Persistence("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Persistence("commit tx", err)
	}
	return nil
}

// GetHeritage retrieves a heritage site by ID.
func (s *PostgresStore) GetHeritage(ctx context.Context, heritageID int64) (*domain.Heritage, error) {
	var h domain.Heritage
	err := s.q.QueryRow(ctx,
		`SELECT heritage_id, name, latitude, longitude FROM heritages WHERE heritage_id = $1`, heritageID,
	).Scan(&h.ID, &h.Name, &h.Latitude, &h.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("get heritage", err)
	}
	return &h, nil
}

// GetBuilding retrieves a building by ID.
func (s *PostgresStore) GetBuilding(ctx context.Context, buildingID int64) (*domain.Building, error) {
	var b domain.Building
	err := s.q.QueryRow(ctx,
		`SELECT building_id, heritage_id, name, latitude, longitude FROM buildings WHERE building_id = $1`, buildingID,
	).Scan(&b.ID, &b.HeritageID, &b.Name, &b.Latitude, &b.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("get building", err)
	}
	return &b, nil
}

// ListBuildingImages returns the images of a building ordered by image order.
func (s *PostgresStore) ListBuildingImages(ctx context.Context, buildingID int64) ([]domain.BuildingImage, error) {
	rows, err := s.q.Query(ctx,
		`SELECT building_id, image_url, image_order FROM building_images
		 WHERE building_id = $1 ORDER BY image_order, image_id`, buildingID)
	if err != nil {
		return nil, domain.Persistence("list building images", err)
	}
	defer rows.Close()

	var images []domain.BuildingImage
	for rows.Next() {
		var img domain.BuildingImage
		if err := rows.Scan(&img.BuildingID, &img.URL, &img.Order); err != nil {
			return nil, domain.Persistence("scan building image", err)
		}
		images = append(images, img)
	}
	return images, domain.Persistence("iterate building images", rows.Err())
}

// ListRoutes returns the routes of a heritage site with their stops in visit order.
func (s *PostgresStore) ListRoutes(ctx context.Context, heritageID int64) ([]domain.Route, error) {
	rows, err := s.q.Query(ctx, `
		SELECT r.route_id, r.name, b.building_id, b.name, rb.visit_order, b.latitude, b.longitude
		FROM routes r
		JOIN route_buildings rb ON rb.route_id = r.route_id
		JOIN buildings b ON b.building_id = rb.building_id
		WHERE r.heritage_id = $1
		ORDER BY r.route_id, rb.visit_order`, heritageID)
	if err != nil {
		return nil, domain.Persistence("list routes", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var (
			routeID   int64
			routeName string
			stop      domain.RouteStop
		)
		if err := rows.Scan(&routeID, &routeName, &stop.BuildingID, &stop.Name, &stop.VisitOrder,
			&stop.Coordinate.Latitude, &stop.Coordinate.Longitude); err != nil {
			return nil, domain.Persistence("scan route", err)
		}
		routes = appendStop(routes, heritageID, routeID, routeName, stop)
	}
	return routes, domain.Persistence("iterate routes", rows.Err())
}

// SaveHeritage inserts or updates a heritage site with its buildings, images and routes.
func (s *PostgresStore) SaveHeritage(ctx context.Context, bundle *domain.HeritageBundle) error {
	return s.WithTx(ctx, func(r Repository) error {
		q := r.(*PostgresStore).q
		h := bundle.Heritage
		if _, err := q.Exec(ctx, `
			INSERT INTO heritages (heritage_id, name, latitude, longitude) VALUES ($1, $2, $3, $4)
			ON CONFLICT (heritage_id) DO UPDATE SET
				name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
			h.ID, h.Name, h.Latitude, h.Longitude); err != nil {
			return domain.Persistence("upsert heritage", err)
		}

		for _, b := range bundle.Buildings {
			if _, err := q.Exec(ctx, `
				INSERT INTO buildings (building_id, heritage_id, name, latitude, longitude) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (building_id) DO UPDATE SET
					heritage_id = EXCLUDED.heritage_id, name = EXCLUDED.name,
					latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
				b.ID, h.ID, b.Name, b.Latitude, b.Longitude); err != nil {
				return domain.Persistence("upsert building", err)
			}
			if _, err := q.Exec(ctx, `DELETE FROM building_images WHERE building_id = $1`, b.ID); err != nil {
				return domain.Persistence("clear building images", err)
			}
		}
		for _, img := range bundle.Images {
			if _, err := q.Exec(ctx,
				`INSERT INTO building_images (building_id, image_url, image_order) VALUES ($1, $2, $3)`,
				img.BuildingID, img.URL, img.Order); err != nil {
				return domain.Persistence("insert building image", err)
			}
		}

		for _, route := range bundle.Routes {
			if _, err := q.Exec(ctx, `
				INSERT INTO routes (route_id, heritage_id, name) VALUES ($1, $2, $3)
				ON CONFLICT (route_id) DO UPDATE SET heritage_id = EXCLUDED.heritage_id, name = EXCLUDED.name`,
				route.ID, h.ID, route.Name); err != nil {
				return domain.Persistence("upsert route", err)
			}
			if _, err := q.Exec(ctx, `DELETE FROM route_buildings WHERE route_id = $1`, route.ID); err != nil {
				return domain.Persistence("clear route stops", err)
			}
			for _, stop := range route.Buildings {
				if _, err := q.Exec(ctx,
					`INSERT INTO route_buildings (route_id, building_id, visit_order) VALUES ($1, $2, $3)`,
					route.ID, stop.BuildingID, stop.VisitOrder); err != nil {
					return domain.Persistence("insert route stop", err)
				}
			}
		}
		return nil
	})
}

// CreateSession inserts a new session and returns it with its assigned ID.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	full, err := encodeJSON(session.FullConversation)
	if err != nil {
		return nil, err
	}
	window, err := encodeJSON(session.SlidingWindow)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.q.QueryRow(ctx, `
		INSERT INTO chat_sessions (user_id, heritage_id, heritage_name, start_time, quiz_count,
			full_conversation, sliding_window)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING session_id`,
		session.UserID, session.HeritageID, session.HeritageName, session.StartTime, session.QuizCount,
		full, window,
	).Scan(&id)
	if err != nil {
		return nil, domain.Persistence("insert session", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID int64) (*domain.Session, error) {
	return scanPostgresSession(s.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = $1`, sessionID))
}

// FindActiveSession returns the open session of a user for a heritage site.
func (s *PostgresStore) FindActiveSession(ctx context.Context, userID, heritageID int64) (*domain.Session, error) {
	return scanPostgresSession(s.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = $1 AND heritage_id = $2 AND end_time IS NULL
		ORDER BY session_id DESC LIMIT 1`, userID, heritageID))
}

func scanPostgresSession(row pgx.Row) (*domain.Session, error) {
	var (
		sess                            domain.Session
		full, window, keywords, visited []byte
	)
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.HeritageID, &sess.HeritageName, &sess.StartTime, &sess.EndTime, &sess.QuizCount,
		&full, &window, &keywords, &visited, &sess.SummaryGeneratedAt,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("scan session row", err)
	}

	if err := decodeJSON(string(full), &sess.FullConversation); err != nil {
		return nil, err
	}
	if err := decodeJSON(string(window), &sess.SlidingWindow); err != nil {
		return nil, err
	}
	if err := decodeJSON(string(keywords), &sess.SummaryKeywords); err != nil {
		return nil, err
	}
	if err := decodeJSON(string(visited), &sess.VisitedBuildings); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListIdleSessions returns the ids of open sessions not updated since before.
func (s *PostgresStore) ListIdleSessions(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := s.q.Query(ctx,
		`SELECT session_id FROM chat_sessions WHERE end_time IS NULL AND updated_at < $1 ORDER BY session_id`,
		before)
	if err != nil {
		return nil, domain.Persistence("list idle sessions", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence("scan idle session", err)
		}
		ids = append(ids, id)
	}
	return ids, domain.Persistence("iterate idle sessions", rows.Err())
}

// EndSession sets the end time of an open session.
func (s *PostgresStore) EndSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE chat_sessions SET end_time = $1, updated_at = NOW() WHERE session_id = $2 AND end_time IS NULL`,
		at, sessionID)
	if err != nil {
		return false, domain.Persistence("end session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateConversation replaces the full history and sliding window of a session.
func (s *PostgresStore) UpdateConversation(ctx context.Context, sessionID int64, full, window []domain.Message) error {
	fullJSON, err := encodeJSON(full)
	if err != nil {
		return err
	}
	windowJSON, err := encodeJSON(window)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE chat_sessions SET full_conversation = $1, sliding_window = $2, updated_at = NOW() WHERE session_id = $3`,
		fullJSON, windowJSON, sessionID)
	if err != nil {
		return domain.Persistence("update conversation", err)
	}
	return requireTag(tag, sessionID, "UpdateConversation")
}

// DecrementQuizCount lowers the remaining quiz count by one, never below zero.
func (s *PostgresStore) DecrementQuizCount(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		UPDATE chat_sessions SET quiz_count = GREATEST(quiz_count - 1, 0), updated_at = NOW()
		WHERE session_id = $1
		RETURNING quiz_count`, sessionID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return 0, domain.Persistence("decrement quiz count", err)
	}
	return count, nil
}

// SaveSummary stores the summary keywords and visited course of a session.
func (s *PostgresStore) SaveSummary(ctx context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error {
	keywordsJSON, err := encodeJSON(keywords)
	if err != nil {
		return err
	}
	visitedJSON, err := encodeJSON(visited)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE chat_sessions
		SET summary_keywords = $1, visited_buildings = $2, summary_generated_at = $3, updated_at = NOW()
		WHERE session_id = $4`,
		keywordsJSON, visitedJSON, at, sessionID)
	if err != nil {
		return domain.Persistence("save summary", err)
	}
	return requireTag(tag, sessionID, "SaveSummary")
}

func requireTag(tag pgconn.CommandTag, sessionID int64, op string) error {
	if tag.RowsAffected() == 0 {
		slog.Warn(op+" affected 0 rows", "session_id", sessionID)
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateTurn appends a chat turn.
func (s *PostgresStore) CreateTurn(ctx context.Context, turn *domain.Turn) (*domain.Turn, error) {
	out := *turn
	err := s.q.QueryRow(ctx,
		`INSERT INTO chats (session_id, role, content, timestamp) VALUES ($1, $2, $3, $4) RETURNING chat_id`,
		turn.SessionID, string(turn.Role), turn.Content, turn.Timestamp).Scan(&out.ID)
	if err != nil {
		return nil, domain.Persistence("insert turn", err)
	}
	return &out, nil
}

// GetLatestTurn returns the most recent turn of a session with the given role.
func (s *PostgresStore) GetLatestTurn(ctx context.Context, sessionID int64, role domain.Role) (*domain.Turn, error) {
	var (
		turn    domain.Turn
		roleStr string
	)
	err := s.q.QueryRow(ctx, `
		SELECT chat_id, session_id, role, content, timestamp FROM chats
		WHERE session_id = $1 AND role = $2
		ORDER BY chat_id DESC LIMIT 1`, sessionID, string(role),
	).Scan(&turn.ID, &turn.SessionID, &roleStr, &turn.Content, &turn.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("scan turn", err)
	}
	turn.Role = domain.Role(roleStr)
	return &turn, nil
}

// CreateQuiz stores a generated quiz.
func (s *PostgresStore) CreateQuiz(ctx context.Context, quiz *domain.Quiz) (*domain.Quiz, error) {
	options, err := encodeJSON(quiz.Options)
	if err != nil {
		return nil, err
	}
	out := *quiz
	err = s.q.QueryRow(ctx, `
		INSERT INTO quizzes (session_id, question, options, answer, explanation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING quiz_id`,
		quiz.SessionID, quiz.Question, options, quiz.Answer, quiz.Explanation, quiz.CreatedAt).Scan(&out.ID)
	if err != nil {
		return nil, domain.Persistence("insert quiz", err)
	}
	return &out, nil
}

// ReplaceRecommendedQuestions swaps the stored follow-up questions of a session.
func (s *PostgresStore) ReplaceRecommendedQuestions(ctx context.Context, sessionID int64, questions []string) error {
	return s.WithTx(ctx, func(r Repository) error {
		q := r.(*PostgresStore).q
		if _, err := q.Exec(ctx, `DELETE FROM recommended_questions WHERE session_id = $1`, sessionID); err != nil {
			return domain.Persistence("delete recommended questions", err)
		}
		for i, question := range questions {
			if _, err := q.Exec(ctx,
				`INSERT INTO recommended_questions (session_id, question, position) VALUES ($1, $2, $3)`,
				sessionID, question, i); err != nil {
				return domain.Persistence("insert recommended question", err)
			}
		}
		return nil
	})
}

// ListRecommendedQuestions returns the stored follow-up questions of a session.
func (s *PostgresStore) ListRecommendedQuestions(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT question FROM recommended_questions WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, domain.Persistence("list recommended questions", err)
	}
	defer rows.Close()

	questions := make([]string, 0, 3)
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, domain.Persistence("scan recommended question", err)
		}
		questions = append(questions, q)
	}
	return questions, domain.Persistence("iterate recommended questions", rows.Err())
}
