package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zajuna/tutor-virtual/internal/domain"
)

const sessionKeyPrefix = "zajuna:session:"

// RedisSessionStore keeps the session ledger in Redis. Entries expire through
// key TTLs, so CleanupExpiredSessions has nothing to sweep.
type RedisSessionStore struct {
	rdb *goredis.Client
	ttl time.Duration
	now func() time.Time
}

var _ SessionRepository = (*RedisSessionStore)(nil)

// NewRedis connects to addr and verifies it with a ping.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisSessionStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSessionStore{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func sessionKey(senderID string) string { return sessionKeyPrefix + senderID }

// GetSession retrieves the ledger entry for a sender.
func (s *RedisSessionStore) GetSession(ctx context.Context, senderID string) (*domain.SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(senderID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// UpsertSession writes the entry and refreshes its TTL, keeping CreatedAt of
// an existing entry.
func (s *RedisSessionStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	now := s.now()
	out := *rec
	out.UpdatedAt = now
	if out.LastSeenAt.IsZero() {
		out.LastSeenAt = now
	}

	existing, err := s.GetSession(ctx, rec.SenderID)
	switch {
	case err == nil:
		out.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if out.CreatedAt.IsZero() {
			out.CreatedAt = now
		}
	default:
		return err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(rec.SenderID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// DeleteSession removes a ledger entry.
func (s *RedisSessionStore) DeleteSession(ctx context.Context, senderID string) error {
	if err := s.rdb.Del(ctx, sessionKey(senderID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions is a no-op; Redis expires keys on its own.
func (s *RedisSessionStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

// Ping verifies connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisSessionStore) Close() error {
	return s.rdb.Close()
}
