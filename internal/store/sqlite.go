package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pitchlab/pitchlab/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS trainees (
		trainee_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		trainee_id TEXT NOT NULL UNIQUE,
		duration_seconds INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ends_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(ends_at) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		reply_text TEXT NOT NULL,
		advice_text TEXT,
		advice_opened INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureTrainee creates the trainee record if it does not exist.
func (s *SQLiteStore) EnsureTrainee(ctx context.Context, traineeID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO trainees (trainee_id, created_at, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(trainee_id) DO UPDATE SET
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, traineeID, now, now); err != nil {
		return fmt.Errorf("ensure trainee: %w", err)
	}
	return nil
}

// CreateSession inserts a new practice session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.PracticeSession) error {
	query := `
	INSERT INTO sessions (session_id, trainee_id, duration_seconds, started_at, ends_at, status)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.TraineeID, session.DurationSeconds,
		session.StartedAt.Unix(), session.EndsAt.Unix(), string(session.Status),
	)
	if err != nil {
		if isSQLiteUniqueError(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionByTrainee retrieves the trainee's session, or nil if none exists.
func (s *SQLiteStore) GetSessionByTrainee(ctx context.Context, traineeID string) (*domain.PracticeSession, error) {
	query := `
		SELECT session_id, trainee_id, duration_seconds,
		       started_at, ends_at, status, ended_at
		FROM sessions WHERE trainee_id = ?`

	row := s.db.QueryRowContext(ctx, query, traineeID)

	var session domain.PracticeSession
	var status string
	var startedAt, endsAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&session.ID, &session.TraineeID, &session.DurationSeconds,
		&startedAt, &endsAt, &status, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.StartedAt = time.Unix(startedAt, 0)
	session.EndsAt = time.Unix(endsAt, 0)
	session.Status = domain.SessionStatus(status)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		session.EndedAt = &ts
	}

	return &session, nil
}

// FinishSession marks a session finished and records its end time.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors,
// since the TTL sweeper and a handler may race on the same row.
func (s *SQLiteStore) FinishSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.finishSessionOnce(ctx, sessionID, endedAt)
		if err == nil {
			return nil
		}

		if IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("FinishSession hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("finish session %s after %d attempts: %w", sessionID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) finishSessionOnce(ctx context.Context, sessionID string, endedAt time.Time) error {
	query := `
		UPDATE sessions SET status = ?, ended_at = ?
		WHERE session_id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.SessionFinished), endedAt.Unix(),
		sessionID, string(domain.SessionActive),
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("FinishSession affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// GetOverdueSessions retrieves sessions still active past their end time.
func (s *SQLiteStore) GetOverdueSessions(ctx context.Context, now time.Time) ([]*domain.PracticeSession, error) {
	query := `
		SELECT session_id, trainee_id, duration_seconds,
		       started_at, ends_at, status, ended_at
		FROM sessions WHERE status = ? AND ends_at < ?`

	rows, err := s.db.QueryContext(ctx, query, string(domain.SessionActive), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("query overdue sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close overdue sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.PracticeSession
	for rows.Next() {
		var session domain.PracticeSession
		var status string
		var startedAt, endsAt int64
		var endedAt sql.NullInt64

		if err := rows.Scan(
			&session.ID, &session.TraineeID, &session.DurationSeconds,
			&startedAt, &endsAt, &status, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan overdue session row: %w", err)
		}

		session.StartedAt = time.Unix(startedAt, 0)
		session.EndsAt = time.Unix(endsAt, 0)
		session.Status = domain.SessionStatus(status)
		if endedAt.Valid {
			ts := time.Unix(endedAt.Int64, 0)
			session.EndedAt = &ts
		}
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue sessions: %w", err)
	}

	return sessions, nil
}

// CountTurns returns the number of turns recorded for a session.
func (s *SQLiteStore) CountTurns(ctx context.Context, sessionID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM turns WHERE session_id = ?`
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

// AppendTurn inserts a completed exchange turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	query := `
	INSERT INTO turns (turn_id, session_id, seq, user_text, reply_text, advice_text, advice_opened, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var advice interface{}
	if turn.AdviceText != "" {
		advice = turn.AdviceText
	}

	_, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.SessionID, turn.Seq,
		turn.UserText, turn.ReplyText, advice,
		turn.AdviceOpened, turn.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// LatestTurn retrieves the most recent turn of a session, or nil if none.
func (s *SQLiteStore) LatestTurn(ctx context.Context, sessionID string) (*domain.Turn, error) {
	query := `
		SELECT turn_id, session_id, seq, user_text, reply_text,
		       advice_text, advice_opened, created_at
		FROM turns WHERE session_id = ?
		ORDER BY seq DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var turn domain.Turn
	var advice sql.NullString
	var createdAt int64

	err := row.Scan(
		&turn.ID, &turn.SessionID, &turn.Seq,
		&turn.UserText, &turn.ReplyText,
		&advice, &turn.AdviceOpened, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan turn row: %w", err)
	}

	turn.AdviceText = advice.String
	turn.CreatedAt = time.Unix(createdAt, 0)

	return &turn, nil
}

// SetTurnAdvice attaches coach advice to a turn.
func (s *SQLiteStore) SetTurnAdvice(ctx context.Context, sessionID string, seq int, advice string) error {
	query := `
		UPDATE turns SET advice_text = ?, advice_opened = 0
		WHERE session_id = ? AND seq = ?`

	result, err := s.db.ExecContext(ctx, query, advice, sessionID, seq)
	if err != nil {
		return fmt.Errorf("set turn advice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetTurnAdvice affected 0 rows", "session_id", sessionID, "seq", seq)
	}

	return nil
}

// MarkLatestAdviceOpened flags the newest advice-bearing turn as opened.
func (s *SQLiteStore) MarkLatestAdviceOpened(ctx context.Context, sessionID string) (bool, error) {
	query := `
		UPDATE turns SET advice_opened = 1
		WHERE turn_id = (
			SELECT turn_id FROM turns
			WHERE session_id = ? AND advice_text IS NOT NULL
			ORDER BY seq DESC LIMIT 1
		)`

	result, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark advice opened: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
