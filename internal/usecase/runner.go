// Package usecase drives the four workflow orchestrators. Each runs as
// its own process under a distributed lock, records itself in the run
// ledger, and exits with code 0 on completed/partial and 1 on failed.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stickertrendz/pipeline/internal/adapter/observability"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
	"github.com/stickertrendz/pipeline/internal/service/ratelimiter"
)

// Exit codes for the workflow mains.
const (
	ExitOK     = 0
	ExitFailed = 1
)

// Locker is the single-writer gate each workflow takes before running.
type Locker interface {
	AcquireLock(ctx context.Context, workflow string) (string, bool)
	ReleaseLock(ctx context.Context, workflow, token string) bool
}

// RunScope accumulates a run's counters and gives the body a place to
// log per-item failures against the owning run id.
type RunScope struct {
	RunID string

	errs *ledger.Errors

	mu       sync.Mutex
	counts   domain.RunCounts
	apiCalls int
	aiCost   float64
	metadata map[string]any
}

// ItemError records one caught per-item failure and counts it toward
// the run's partial/completed decision.
func (s *RunScope) ItemError(ctx context.Context, step, service string, err error, kv map[string]any) {
	s.mu.Lock()
	s.counts.ErrorsCount++
	s.mu.Unlock()

	s.errs.Log(ctx, domain.ErrorEntry{
		Workflow:      workflowFromRunCtx(ctx),
		Step:          step,
		Kind:          domain.KindOf(err),
		Message:       err.Error(),
		Service:       service,
		PipelineRunID: s.RunID,
		Context:       kv,
	})
}

// Count mutates the run counters under the scope lock.
func (s *RunScope) Count(mutate func(c *domain.RunCounts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.counts)
}

// AddAPICalls books marketplace API calls onto the run row.
func (s *RunScope) AddAPICalls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiCalls += n
}

// AddCost books estimated AI spend onto the run row.
func (s *RunScope) AddCost(usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiCost += usd
}

// SetMetadata stores one metadata key on the terminal run row.
func (s *RunScope) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = map[string]any{}
	}
	s.metadata[key] = value
}

func (s *RunScope) errorsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts.ErrorsCount
}

func (s *RunScope) summary(errMsg string) ledger.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.Summary{
		Counts:   s.counts,
		APICalls: s.apiCalls,
		AICost:   s.aiCost,
		Error:    errMsg,
		Metadata: s.metadata,
	}
}

type workflowCtxKey struct{}

func workflowFromRunCtx(ctx context.Context) string {
	if w, ok := ctx.Value(workflowCtxKey{}).(string); ok {
		return w
	}
	return ""
}

// Runner is the shared workflow skeleton: lock, admission, run ledger,
// body, terminal close, guaranteed lock release.
type Runner struct {
	Locks   Locker
	Runs    *ledger.Runs
	Errors  *ledger.Errors
	Alerter domain.Alerter
}

// Execute drives one workflow run end to end and returns the process
// exit code.
//
// admission runs after the lock is held; a non-empty reason closes the
// run immediately with metadata {skipped: reason}. The body's context
// carries a deadline equal to the lock TTL; bodies check it before each
// external call and return early to close partial rather than letting
// the lock expire underneath them.
func (r *Runner) Execute(ctx context.Context, workflow string, admission func(context.Context) (string, error), body func(context.Context, *RunScope) error) int {
	token, ok := r.Locks.AcquireLock(ctx, workflow)
	observability.RecordLockAttempt(workflow, ok)
	if !ok {
		slog.InfoContext(ctx, "another run holds the workflow lock, bailing out",
			slog.String("workflow", workflow))
		return ExitOK
	}
	defer r.Locks.ReleaseLock(context.WithoutCancel(ctx), workflow, token)

	started := time.Now()
	ctx = context.WithValue(ctx, workflowCtxKey{}, workflow)
	ctx, cancel := context.WithDeadline(ctx, started.Add(ratelimiter.LockTTL(workflow)))
	defer cancel()

	if admission != nil {
		reason, err := admission(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "admission check failed",
				slog.String("workflow", workflow), slog.Any("error", err))
			reason = "admission_error"
		}
		if reason != "" {
			r.closeSkipped(ctx, workflow, reason)
			return ExitOK
		}
	}

	runID, err := r.Runs.Start(ctx, workflow, nil)
	if err != nil {
		slog.ErrorContext(ctx, "run ledger unavailable",
			slog.String("workflow", workflow), slog.Any("error", err))
		return ExitFailed
	}
	ctx = observability.ContextWithRunID(ctx, runID)
	observability.StartRun(workflow)

	scope := &RunScope{RunID: runID, errs: r.Errors}
	bodyErr := r.runBody(ctx, body, scope)

	// Terminal writes must land even when the body ate the deadline.
	closeCtx := context.WithoutCancel(ctx)
	status := r.close(closeCtx, workflow, scope, bodyErr)
	observability.FinishRun(workflow, string(status), time.Since(started))

	if status == domain.RunFailed {
		return ExitFailed
	}
	return ExitOK
}

// runBody converts a panic into a failed run instead of a crashed
// process with a still-open ledger row.
func (r *Runner) runBody(ctx context.Context, body func(context.Context, *RunScope) error, scope *RunScope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("op=usecase.runBody: panic: %v", rec)
		}
	}()
	return body(ctx, scope)
}

func (r *Runner) close(ctx context.Context, workflow string, scope *RunScope, bodyErr error) domain.RunStatus {
	switch {
	case bodyErr != nil:
		if err := r.Runs.Fail(ctx, scope.RunID, scope.summary(bodyErr.Error())); err != nil {
			slog.ErrorContext(ctx, "failed to close run", slog.Any("error", err))
		}
		r.criticalAlert(ctx, workflow, bodyErr)
		return domain.RunFailed
	case scope.errorsCount() > 0:
		if err := r.Runs.Partial(ctx, scope.RunID, scope.summary("")); err != nil {
			slog.ErrorContext(ctx, "failed to close run", slog.Any("error", err))
		}
		return domain.RunPartial
	default:
		if err := r.Runs.Complete(ctx, scope.RunID, scope.summary("")); err != nil {
			slog.ErrorContext(ctx, "failed to close run", slog.Any("error", err))
		}
		return domain.RunCompleted
	}
}

func (r *Runner) closeSkipped(ctx context.Context, workflow, reason string) {
	runID, err := r.Runs.Start(ctx, workflow, nil)
	if err != nil {
		slog.ErrorContext(ctx, "run ledger unavailable for skip record",
			slog.String("workflow", workflow), slog.Any("error", err))
		return
	}
	summary := ledger.Summary{Metadata: map[string]any{"skipped": reason}}
	if err := r.Runs.Complete(ctx, runID, summary); err != nil {
		slog.ErrorContext(ctx, "failed to close skipped run", slog.Any("error", err))
	}
	slog.InfoContext(ctx, "workflow skipped",
		slog.String("workflow", workflow), slog.String("reason", reason))
}

func (r *Runner) criticalAlert(ctx context.Context, workflow string, err error) {
	body := fmt.Sprintf("Workflow %s failed.\n\nError: %s", workflow, ledger.Redact(err.Error()))
	if aerr := r.Alerter.Send(ctx, "Workflow failed: "+workflow, body, "critical"); aerr != nil {
		slog.WarnContext(ctx, "critical alert delivery failed", slog.Any("error", aerr))
	}
}

// Deadline reports whether the run budget is exhausted; bodies call it
// before starting another external call.
func Deadline(ctx context.Context) bool {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl) <= 0
	}
	return ctx.Err() != nil
}
