package maintenance

import (
	"context"
	"log/slog"
	"time"

	"safestep/pkg/db"
)

// KeepWalks is how many walk records survive pruning.
const KeepWalks = 200

// Run prunes expired route cache entries and old walk history.
// Failures are logged, never returned; maintenance must not block startup.
func Run(ctx context.Context, d *db.DB, cacheTTL time.Duration) {
	slog.Info("Starting database maintenance...")

	if ctx.Err() != nil {
		return
	}
	if n, err := d.PruneCache(cacheTTL); err != nil {
		slog.Error("Cache pruning failed", "error", err)
	} else {
		slog.Info("Cache pruning completed", "removed", n)
	}

	if ctx.Err() != nil {
		return
	}
	if n, err := d.PruneWalks(KeepWalks); err != nil {
		slog.Error("Walk history pruning failed", "error", err)
	} else if n > 0 {
		slog.Info("Walk history pruned", "removed", n)
	}
}
