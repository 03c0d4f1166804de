package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the TTL worker sweeps the ledger.
const DefaultSweepInterval = 5 * time.Minute

// StartTTLWorker periodically deletes ledger entries idle longer than ttl
// until ctx is cancelled.
func StartTTLWorker(ctx context.Context, repo SessionRepository, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo SessionRepository, ttl time.Duration) int64 {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to clean up sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("TTL worker removed idle sessions", "count", deleted)
	}
	return deleted
}
