// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zajuna/tutor-virtual/internal/domain"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// SessionRepository persists the per-conversation ledger kept by the action server.
type SessionRepository interface {
	// GetSession retrieves the ledger entry for a sender. Returns ErrNotFound when absent.
	GetSession(ctx context.Context, senderID string) (*domain.SessionRecord, error)

	// UpsertSession creates or updates a ledger entry. CreatedAt of an existing row is kept.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes a ledger entry. Deleting a missing entry is not an error.
	DeleteSession(ctx context.Context, senderID string) error

	// CleanupExpiredSessions removes entries idle for longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// AutosaveRepository persists guardian store documents.
type AutosaveRepository interface {
	// InsertAutosave appends a snapshot and returns its id. Timestamp is set by the store.
	InsertAutosave(ctx context.Context, senderID string, data map[string]any) (string, error)

	// LatestAutosaves returns up to limit snapshots, newest first. An empty
	// senderID lists across all senders.
	LatestAutosaves(ctx context.Context, senderID string, limit int) ([]domain.Autosave, error)

	// DeleteAutosaves removes every snapshot of a sender and reports how many were removed.
	DeleteAutosaves(ctx context.Context, senderID string) (int64, error)

	// InsertEvent appends a security event and returns its id.
	InsertEvent(ctx context.Context, eventType string, payload map[string]any) (string, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
