package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// LockTTL returns the lock lifetime for a workflow. The trend monitor's
// budget is tighter because its cycle does far less marketplace I/O.
func LockTTL(workflow string) time.Duration {
	if workflow == domain.WorkflowTrendMonitor {
		return 25 * time.Minute
	}
	return 30 * time.Minute
}

func lockKey(workflow string) string { return "lock:" + workflow }

// AcquireLock attempts to take the workflow lock. It returns the owner token
// and true when this caller became the holder. Store failures and contention
// both return false; only the token distinguishes a holder.
func (g *Governor) AcquireLock(ctx context.Context, workflow string) (string, bool) {
	token := uuid.NewString()
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.rdb.SetNX(cctx, lockKey(workflow), token, LockTTL(workflow)).Result()
	if err != nil {
		slog.Error("lock acquire failed", slog.String("workflow", workflow), slog.Any("error", err))
		return "", false
	}
	if !ok {
		slog.Info("lock held elsewhere", slog.String("workflow", workflow))
		return "", false
	}
	return token, true
}

// ReleaseLock deletes the workflow lock only when token still owns it.
// Returns false when the lock expired, belongs to another holder, or the
// store was unreachable.
func (g *Governor) ReleaseLock(ctx context.Context, workflow, token string) bool {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.release.Run(cctx, g.rdb, []string{lockKey(workflow)}, token).Result()
	if err != nil {
		slog.Error("lock release failed", slog.String("workflow", workflow), slog.Any("error", err))
		return false
	}
	deleted, ok := res.(int64)
	if !ok || deleted != 1 {
		slog.Warn("lock not released; token no longer owner", slog.String("workflow", workflow))
		return false
	}
	return true
}
