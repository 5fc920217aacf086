package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/ashureev/heritage-guide/internal/shared"
	_ "modernc.org/sqlite"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	q  queryer
	tx bool
}

// NewSQLite opens the SQLite database at dbPath. The schema must already be
// migrated with MigrateUp.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

// sqliteDSN enables WAL mode, a busy timeout and foreign keys on every connection.
func sqliteDSN(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
}

func ensureDir(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.tx {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction, retrying the whole transaction when
// SQLite reports the database as busy.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.tx {
		return fn(s)
	}
	return shared.RetryOnConflict(ctx, "sqlite transaction", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.Persistence("begin tx", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(&SQLiteStore{db: s.db, q: tx, tx: true}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return domain.Persistence("commit tx", err)
		}
		return nil
	})
}

// GetHeritage retrieves a heritage site by ID.
func (s *SQLiteStore) GetHeritage(ctx context.Context, heritageID int64) (*domain.Heritage, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT heritage_id, name, latitude, longitude FROM heritages WHERE heritage_id = ?`, heritageID)

	var h domain.Heritage
	err := row.Scan(&h.ID, &h.Name, &h.Latitude, &h.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("get heritage", err)
	}
	return &h, nil
}

// GetBuilding retrieves a building by ID.
func (s *SQLiteStore) GetBuilding(ctx context.Context, buildingID int64) (*domain.Building, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT building_id, heritage_id, name, latitude, longitude FROM buildings WHERE building_id = ?`, buildingID)

	var b domain.Building
	err := row.Scan(&b.ID, &b.HeritageID, &b.Name, &b.Latitude, &b.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("get building", err)
	}
	return &b, nil
}

// ListBuildingImages returns the images of a building ordered by image order.
func (s *SQLiteStore) ListBuildingImages(ctx context.Context, buildingID int64) ([]domain.BuildingImage, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT building_id, image_url, image_order FROM building_images
		 WHERE building_id = ? ORDER BY image_order, image_id`, buildingID)
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
func (s *SQLiteStore) ListRoutes(ctx context.Context, heritageID int64) ([]domain.Route, error) {
	query := `
	SELECT r.route_id, r.name, b.building_id, b.name, rb.visit_order, b.latitude, b.longitude
	FROM routes r
	JOIN route_buildings rb ON rb.route_id = r.route_id
	JOIN buildings b ON b.building_id = rb.building_id
	WHERE r.heritage_id = ?
	ORDER BY r.route_id, rb.visit_order`

	rows, err := s.q.QueryContext(ctx, query, heritageID)
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

// appendStop adds stop to the route with routeID, starting a new route when
// rows move on to the next one.
func appendStop(routes []domain.Route, heritageID, routeID int64, routeName string, stop domain.RouteStop) []domain.Route {
	if n := len(routes); n == 0 || routes[n-1].ID != routeID {
		routes = append(routes, domain.Route{ID: routeID, HeritageID: heritageID, Name: routeName})
	}
	last := &routes[len(routes)-1]
	last.Buildings = append(last.Buildings, stop)
	return routes
}

// SaveHeritage inserts or updates a heritage site with its buildings, images and routes.
func (s *SQLiteStore) SaveHeritage(ctx context.Context, bundle *domain.HeritageBundle) error {
	return s.WithTx(ctx, func(r Repository) error {
		q := r.(*SQLiteStore).q
		h := bundle.Heritage
		if _, err := q.ExecContext(ctx, `
			INSERT INTO heritages (heritage_id, name, latitude, longitude) VALUES (?, ?, ?, ?)
			ON CONFLICT(heritage_id) DO UPDATE SET
				name = excluded.name, latitude = excluded.latitude, longitude = excluded.longitude`,
			h.ID, h.Name, h.Latitude.String(), h.Longitude.String()); err != nil {
			return domain.Persistence("upsert heritage", err)
		}

		for _, b := range bundle.Buildings {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO buildings (building_id, heritage_id, name, latitude, longitude) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(building_id) DO UPDATE SET
					heritage_id = excluded.heritage_id, name = excluded.name,
					latitude = excluded.latitude, longitude = excluded.longitude`,
				b.ID, h.ID, b.Name, b.Latitude.String(), b.Longitude.String()); err != nil {
				return domain.Persistence("upsert building", err)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM building_images WHERE building_id = ?`, b.ID); err != nil {
				return domain.Persistence("clear building images", err)
			}
		}
		for _, img := range bundle.Images {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO building_images (building_id, image_url, image_order) VALUES (?, ?, ?)`,
				img.BuildingID, img.URL, img.Order); err != nil {
				return domain.Persistence("insert building image", err)
			}
		}

		for _, route := range bundle.Routes {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO routes (route_id, heritage_id, name) VALUES (?, ?, ?)
				ON CONFLICT(route_id) DO UPDATE SET heritage_id = excluded.heritage_id, name = excluded.name`,
				route.ID, h.ID, route.Name); err != nil {
				return domain.Persistence("upsert route", err)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM route_buildings WHERE route_id = ?`, route.ID); err != nil {
				return domain.Persistence("clear route stops", err)
			}
			for _, stop := range route.Buildings {
				if _, err := q.ExecContext(ctx,
					`INSERT INTO route_buildings (route_id, building_id, visit_order) VALUES (?, ?, ?)`,
					route.ID, stop.BuildingID, stop.VisitOrder); err != nil {
					return domain.Persistence("insert route stop", err)
				}
			}
		}
		return nil
	})
}

const sessionColumns = `session_id, user_id, heritage_id, heritage_name, start_time, end_time, quiz_count,
	full_conversation, sliding_window, summary_keywords, visited_buildings, summary_generated_at,
	created_at, updated_at`

// CreateSession inserts a new session and returns it with its assigned ID.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	full, err := encodeJSON(session.FullConversation)
	if err != nil {
		return nil, err
	}
	window, err := encodeJSON(session.SlidingWindow)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO chat_sessions (user_id, heritage_id, heritage_name, start_time, quiz_count,
			full_conversation, sliding_window, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.HeritageID, session.HeritageName, session.StartTime.Unix(), session.QuizCount,
		full, window, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, domain.Persistence("insert session", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, domain.Persistence("session id", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID int64) (*domain.Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)
	return scanSQLiteSession(row)
}

// FindActiveSession returns the open session of a user for a heritage site.
func (s *SQLiteStore) FindActiveSession(ctx context.Context, userID, heritageID int64) (*domain.Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ? AND heritage_id = ? AND end_time IS NULL
		ORDER BY session_id DESC LIMIT 1`, userID, heritageID)
	return scanSQLiteSession(row)
}

func scanSQLiteSession(row *sql.Row) (*domain.Session, error) {
	var (
		sess                            domain.Session
		startTime, createdAt, updatedAt int64
		endTime, summaryAt              sql.NullInt64
		full, window, keywords, visited sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.HeritageID, &sess.HeritageName, &startTime, &endTime, &sess.QuizCount,
		&full, &window, &keywords, &visited, &summaryAt,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("scan session row", err)
	}

	sess.StartTime = time.Unix(startTime, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	sess.EndTime = unixPtr(endTime)
	sess.SummaryGeneratedAt = unixPtr(summaryAt)

	if err := decodeJSON(full.String, &sess.FullConversation); err != nil {
		return nil, err
	}
	if err := decodeJSON(window.String, &sess.SlidingWindow); err != nil {
		return nil, err
	}
	if err := decodeJSON(keywords.String, &sess.SummaryKeywords); err != nil {
		return nil, err
	}
	if err := decodeJSON(visited.String, &sess.VisitedBuildings); err != nil {
		return nil, err
	}
	return &sess, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// ListIdleSessions returns the ids of open sessions not updated since before.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT session_id FROM chat_sessions WHERE end_time IS NULL AND updated_at < ? ORDER BY session_id`,
		before.Unix())
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
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE chat_sessions SET end_time = ?, updated_at = ? WHERE session_id = ? AND end_time IS NULL`,
		at.Unix(), time.Now().Unix(), sessionID)
	if err != nil {
		return false, domain.Persistence("end session", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, domain.Persistence("get rows affected", err)
	}
	return rows > 0, nil
}

// UpdateConversation replaces the full history and sliding window of a session.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, sessionID int64, full, window []domain.Message) error {
	fullJSON, err := encodeJSON(full)
	if err != nil {
		return err
	}
	windowJSON, err := encodeJSON(window)
	if err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx,
		`UPDATE chat_sessions SET full_conversation = ?, sliding_window = ?, updated_at = ? WHERE session_id = ?`,
		fullJSON, windowJSON, time.Now().Unix(), sessionID)
	if err != nil {
		return domain.Persistence("update conversation", err)
	}
	return requireRow(result, sessionID, "UpdateConversation")
}

// DecrementQuizCount lowers the remaining quiz count by one, never below zero.
func (s *SQLiteStore) DecrementQuizCount(ctx context.Context, sessionID int64) (int, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE chat_sessions SET quiz_count = MAX(quiz_count - 1, 0), updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
	if err != nil {
		return 0, domain.Persistence("decrement quiz count", err)
	}
	if err := requireRow(result, sessionID, "DecrementQuizCount"); err != nil {
		return 0, err
	}

	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT quiz_count FROM chat_sessions WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return 0, domain.Persistence("read quiz count", err)
	}
	return count, nil
}

// SaveSummary stores the summary keywords and visited course of a session.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID int64, keywords []string, visited []domain.VisitedBuilding, at time.Time) error {
	keywordsJSON, err := encodeJSON(keywords)
	if err != nil {
		return err
	}
	visitedJSON, err := encodeJSON(visited)
	if err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE chat_sessions
		SET summary_keywords = ?, visited_buildings = ?, summary_generated_at = ?, updated_at = ?
		WHERE session_id = ?`,
		keywordsJSON, visitedJSON, at.Unix(), time.Now().Unix(), sessionID)
	if err != nil {
		return domain.Persistence("save summary", err)
	}
	return requireRow(result, sessionID, "SaveSummary")
}

func requireRow(result sql.Result, sessionID int64, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Persistence("get rows affected", err)
	}
	if rows == 0 {
		slog.Warn(op+" affected 0 rows", "session_id", sessionID)
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateTurn appends a chat turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.Turn) (*domain.Turn, error) {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO chats (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		turn.SessionID, string(turn.Role), turn.Content, turn.Timestamp.Unix())
	if err != nil {
		return nil, domain.Persistence("insert turn", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, domain.Persistence("turn id", err)
	}
	out := *turn
	out.ID = id
	out.Timestamp = time.Unix(turn.Timestamp.Unix(), 0)
	return &out, nil
}

// GetLatestTurn returns the most recent turn of a session with the given role.
func (s *SQLiteStore) GetLatestTurn(ctx context.Context, sessionID int64, role domain.Role) (*domain.Turn, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT chat_id, session_id, role, content, timestamp FROM chats
		WHERE session_id = ? AND role = ?
		ORDER BY chat_id DESC LIMIT 1`, sessionID, string(role))

	var (
		turn domain.Turn
		ts   int64
	)
	err := row.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("scan turn", err)
	}
	turn.Timestamp = time.Unix(ts, 0)
	return &turn, nil
}

// CreateQuiz stores a generated quiz.
func (s *SQLiteStore) CreateQuiz(ctx context.Context, quiz *domain.Quiz) (*domain.Quiz, error) {
	options, err := encodeJSON(quiz.Options)
	if err != nil {
		return nil, err
	}
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO quizzes (session_id, question, options, answer, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		quiz.SessionID, quiz.Question, options, quiz.Answer, quiz.Explanation, quiz.CreatedAt.Unix())
	if err != nil {
		return nil, domain.Persistence("insert quiz", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, domain.Persistence("quiz id", err)
	}
	out := *quiz
	out.ID = id
	return &out, nil
}

// ReplaceRecommendedQuestions swaps the stored follow-up questions of a session.
func (s *SQLiteStore) ReplaceRecommendedQuestions(ctx context.Context, sessionID int64, questions []string) error {
	return s.WithTx(ctx, func(r Repository) error {
		q := r.(*SQLiteStore).q
		if _, err := q.ExecContext(ctx, `DELETE FROM recommended_questions WHERE session_id = ?`, sessionID); err != nil {
			return domain.Persistence("delete recommended questions", err)
		}
		now := time.Now().Unix()
		for i, question := range questions {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO recommended_questions (session_id, question, position, created_at) VALUES (?, ?, ?, ?)`,
				sessionID, question, i, now); err != nil {
				return domain.Persistence("insert recommended question", err)
			}
		}
		return nil
	})
}

// ListRecommendedQuestions returns the stored follow-up questions of a session.
func (s *SQLiteStore) ListRecommendedQuestions(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT question FROM recommended_questions WHERE session_id = ? ORDER BY position`, sessionID)
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
