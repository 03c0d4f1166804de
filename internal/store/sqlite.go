package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zajuna/tutor-virtual/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionRepository and AutosaveRepository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL
	now     func() time.Time
}

var (
	_ SessionRepository  = (*SQLiteStore)(nil)
	_ AutosaveRepository = (*SQLiteStore)(nil)
)

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
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

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		sender_id TEXT PRIMARY KEY,
		turns INTEGER NOT NULL DEFAULT 0,
		long_session INTEGER NOT NULL DEFAULT 0,
		close_state TEXT NOT NULL,
		survey_state TEXT NOT NULL,
		last_action TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON conversation_sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS autosaves (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_autosaves_sender_created ON autosaves(sender_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_autosaves_created ON autosaves(created_at);

	CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type, created_at);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves the ledger entry for a sender.
func (s *SQLiteStore) GetSession(ctx context.Context, senderID string) (*domain.SessionRecord, error) {
	query := `
		SELECT sender_id, turns, long_session, close_state, survey_state,
		       last_action, last_seen_at, created_at, updated_at
		FROM conversation_sessions WHERE sender_id = ?`

	row := s.db.QueryRowContext(ctx, query, senderID)

	var rec domain.SessionRecord
	var closeState, surveyState string
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&rec.SenderID, &rec.Turns, &rec.LongSession, &closeState, &surveyState,
		&rec.LastAction, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	rec.CloseState = domain.CloseState(closeState)
	rec.SurveyState = domain.SurveyState(surveyState)
	rec.LastSeenAt = time.Unix(0, lastSeen)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)

	return &rec, nil
}

// UpsertSession creates or updates a ledger entry.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO conversation_sessions (
		sender_id, turns, long_session, close_state, survey_state,
		last_action, last_seen_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sender_id) DO UPDATE SET
		turns = excluded.turns,
		long_session = excluded.long_session,
		close_state = excluded.close_state,
		survey_state = excluded.survey_state,
		last_action = excluded.last_action,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	now := s.now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastSeen := rec.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = now
	}

	return s.withBusyRetry(ctx, "upsert session", rec.SenderID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.SenderID, rec.Turns, rec.LongSession,
			string(rec.CloseState), string(rec.SurveyState), rec.LastAction,
			lastSeen.UnixNano(), createdAt.UnixNano(), now.UnixNano(),
		)
		return err
	})
}

// DeleteSession removes a ledger entry.
func (s *SQLiteStore) DeleteSession(ctx context.Context, senderID string) error {
	return s.withBusyRetry(ctx, "delete session", senderID, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE sender_id = ?`, senderID)
		return err
	})
}

// CleanupExpiredSessions removes ledger entries idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).UnixNano()
	var deleted int64
	err := s.withBusyRetry(ctx, "cleanup sessions", "", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// InsertAutosave appends a snapshot.
func (s *SQLiteStore) InsertAutosave(ctx context.Context, senderID string, data map[string]any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode autosave data: %w", err)
	}
	id := uuid.NewString()
	err = s.withBusyRetry(ctx, "insert autosave", senderID, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO autosaves (id, sender_id, data_json, created_at) VALUES (?, ?, ?, ?)`,
			id, senderID, string(raw), s.now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LatestAutosaves returns the newest snapshots, optionally for one sender.
func (s *SQLiteStore) LatestAutosaves(ctx context.Context, senderID string, limit int) ([]domain.Autosave, error) {
	query := `SELECT id, sender_id, data_json, created_at FROM autosaves`
	args := []any{}
	if senderID != "" {
		query += ` WHERE sender_id = ?`
		args = append(args, senderID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query autosaves: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close autosave rows", "error", closeErr)
		}
	}()

	items := []domain.Autosave{}
	for rows.Next() {
		var item domain.Autosave
		var raw string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.SenderID, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan autosave row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &item.Data); err != nil {
			return nil, fmt.Errorf("decode autosave %s: %w", item.ID, err)
		}
		item.Timestamp = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate autosaves: %w", err)
	}
	return items, nil
}

// DeleteAutosaves removes every snapshot of a sender.
func (s *SQLiteStore) DeleteAutosaves(ctx context.Context, senderID string) (int64, error) {
	var deleted int64
	err := s.withBusyRetry(ctx, "delete autosaves", senderID, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM autosaves WHERE sender_id = ?`, senderID)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// InsertEvent appends a security event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, eventType string, payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode event payload: %w", err)
	}
	id := uuid.NewString()
	err = s.withBusyRetry(ctx, "insert event", "", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO security_events (id, event_type, payload_json, created_at) VALUES (?, ?, ?, ?)`,
			id, eventType, string(raw), s.now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// withBusyRetry runs a write under the writer lock, retrying with exponential
// backoff when SQLite reports the database as busy or locked.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op, senderID string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !isSQLiteConflict(err) || i == maxRetries-1 || ctx.Err() != nil {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("SQLite busy, retrying",
			"op", op,
			"sender_id", senderID,
			"attempt", i+1,
			"delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isSQLiteConflict matches SQLITE_BUSY and "database is locked" errors.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
