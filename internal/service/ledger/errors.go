package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Errors writes the error_log table. Every message and every string
// value inside the context is redacted before storage; a ledger-write
// failure is logged locally and never surfaces to the caller.
type Errors struct {
	repo domain.ErrorRepository
}

func NewErrors(repo domain.ErrorRepository) *Errors {
	return &Errors{repo: repo}
}

// Log records one failed step and returns the row id, or "" when the
// write itself failed.
func (e *Errors) Log(ctx context.Context, entry domain.ErrorEntry) string {
	entry.Message = Redact(entry.Message)
	entry.Context = RedactContext(entry.Context)
	entry.Resolved = false

	id, err := e.repo.Insert(ctx, entry)
	if err != nil {
		slog.Error("failed to write error ledger, logging locally",
			slog.String("workflow", entry.Workflow),
			slog.String("step", entry.Step),
			slog.String("kind", string(entry.Kind)),
			slog.String("message", entry.Message),
			slog.Any("error", err))
		return ""
	}

	slog.Info("error logged",
		slog.String("workflow", entry.Workflow),
		slog.String("step", entry.Step),
		slog.String("kind", string(entry.Kind)),
		slog.String("service", entry.Service))
	return id
}

// Resolve marks a previously logged error as handled.
func (e *Errors) Resolve(ctx context.Context, id string) error {
	if err := e.repo.Resolve(ctx, id); err != nil {
		return fmt.Errorf("op=ledger.Resolve id=%s: %w", id, err)
	}
	return nil
}

// Recent returns the newest rows for a workflow, newest first.
func (e *Errors) Recent(ctx context.Context, workflow string, limit int) ([]domain.ErrorEntry, error) {
	rows, err := e.repo.Recent(ctx, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("op=ledger.Recent workflow=%s: %w", workflow, err)
	}
	return rows, nil
}

// ConsecutiveFailures reports whether the last n rows for a workflow
// are all unresolved. Fewer than n rows, or a read failure, reports
// false.
func (e *Errors) ConsecutiveFailures(ctx context.Context, workflow string, n int) bool {
	rows, err := e.repo.Recent(ctx, workflow, n)
	if err != nil {
		slog.Error("failed to check consecutive failures",
			slog.String("workflow", workflow),
			slog.Any("error", err))
		return false
	}
	if len(rows) < n {
		return false
	}
	for _, row := range rows {
		if row.Resolved {
			return false
		}
	}
	return true
}
