// Package ledger records workflow executions and errors to the
// relational store: the pipeline_runs lifecycle with monotonic
// durations, and the error_log with mandatory redaction.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stickertrendz/pipeline/internal/domain"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.
)

func newRunID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), idEntropy)
	if err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return id.String()
}

// Summary carries the terminal metrics of a run.
type Summary struct {
	Counts   domain.RunCounts
	APICalls int
	AICost   float64
	Error    string
	Metadata map[string]any
}

// Runs writes the pipeline_runs lifecycle. Durations come from a
// monotonic clock captured at Start, held in-process; a run whose
// process crashed before a terminal call stays in status started for
// operators to reconcile.
type Runs struct {
	repo domain.RunRepository

	mu     sync.Mutex
	starts map[string]time.Time
}

func NewRuns(repo domain.RunRepository) *Runs {
	return &Runs{repo: repo, starts: make(map[string]time.Time)}
}

// Start inserts a status=started row and returns the run id.
func (r *Runs) Start(ctx context.Context, workflow string, metadata map[string]any) (string, error) {
	id := newRunID()
	run := domain.PipelineRun{
		ID:        id,
		Workflow:  workflow,
		Status:    domain.RunStarted,
		StartedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if err := r.repo.Insert(ctx, run); err != nil {
		return "", fmt.Errorf("op=ledger.Start workflow=%s: %w", workflow, err)
	}

	r.mu.Lock()
	r.starts[id] = time.Now()
	r.mu.Unlock()

	slog.Info("pipeline run started",
		slog.String("workflow", workflow),
		slog.String("run_id", id))
	return id, nil
}

// Complete marks the run completed with its final metrics.
func (r *Runs) Complete(ctx context.Context, runID string, s Summary) error {
	return r.finish(ctx, runID, domain.RunCompleted, s)
}

// Partial marks the run partially completed: some items succeeded,
// some failed.
func (r *Runs) Partial(ctx context.Context, runID string, s Summary) error {
	return r.finish(ctx, runID, domain.RunPartial, s)
}

// Fail marks the run failed.
func (r *Runs) Fail(ctx context.Context, runID string, s Summary) error {
	return r.finish(ctx, runID, domain.RunFailed, s)
}

func (r *Runs) finish(ctx context.Context, runID string, status domain.RunStatus, s Summary) error {
	duration := r.popDuration(runID)
	ended := time.Now().UTC()

	run := domain.PipelineRun{
		ID:              runID,
		Status:          status,
		EndedAt:         &ended,
		DurationSeconds: &duration,
		Counts:          s.Counts,
		APICallsUsed:    s.APICalls,
		AICostUSD:       s.AICost,
		ErrorMessage:    s.Error,
		Metadata:        s.Metadata,
	}
	if err := r.repo.Finish(ctx, run); err != nil {
		return fmt.Errorf("op=ledger.finish run_id=%s status=%s: %w", runID, status, err)
	}

	switch status {
	case domain.RunFailed:
		slog.Error("pipeline run failed",
			slog.String("run_id", runID),
			slog.Float64("duration_seconds", duration),
			slog.String("error", s.Error))
	case domain.RunPartial:
		slog.Warn("pipeline run partial",
			slog.String("run_id", runID),
			slog.Float64("duration_seconds", duration),
			slog.String("error", s.Error))
	default:
		slog.Info("pipeline run completed",
			slog.String("run_id", runID),
			slog.Float64("duration_seconds", duration),
			slog.Int("api_calls", s.APICalls),
			slog.Float64("ai_cost_usd", s.AICost))
	}
	return nil
}

// popDuration returns elapsed seconds since Start for runs started by
// this process. A run started elsewhere reports zero; terminal rows
// always carry a non-negative duration.
func (r *Runs) popDuration(runID string) float64 {
	r.mu.Lock()
	start, ok := r.starts[runID]
	delete(r.starts, runID)
	r.mu.Unlock()

	if !ok {
		slog.Warn("no start time recorded for run, reporting zero duration",
			slog.String("run_id", runID))
		return 0
	}
	d := time.Since(start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
