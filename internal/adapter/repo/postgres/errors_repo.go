package postgres

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// ErrorRepo writes the error_log ledger. Rows arrive already redacted
// from the ledger service; this layer only persists.
type ErrorRepo struct{ Pool PgxPool }

func NewErrorRepo(p PgxPool) *ErrorRepo { return &ErrorRepo{Pool: p} }

// Insert stores one error row and returns its id.
func (r *ErrorRepo) Insert(ctx domain.Context, e domain.ErrorEntry) (string, error) {
	tracer := otel.Tracer("repo.errors")
	ctx, span := tracer.Start(ctx, "errors.Insert")
	defer span.End()
	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}
	var runID *string
	if e.PipelineRunID != "" {
		runID = &e.PipelineRunID
	}
	q := `INSERT INTO error_log (id, workflow, step, error_type, error_message,
		service, pipeline_run_id, retry_count, resolved, context, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, id, e.Workflow, e.Step, e.Kind, e.Message,
		e.Service, runID, e.RetryCount, e.Resolved, e.Context, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=errors.insert: %w", err)
	}
	return id, nil
}

// Resolve marks a row handled.
func (r *ErrorRepo) Resolve(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.errors")
	ctx, span := tracer.Start(ctx, "errors.Resolve")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE error_log SET resolved=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=errors.resolve: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for a workflow, newest first.
func (r *ErrorRepo) Recent(ctx domain.Context, workflow string, limit int) ([]domain.ErrorEntry, error) {
	tracer := otel.Tracer("repo.errors")
	ctx, span := tracer.Start(ctx, "errors.Recent")
	defer span.End()
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT id, workflow, step, error_type, error_message, COALESCE(service,''),
		COALESCE(pipeline_run_id,''), retry_count, resolved, context, created_at
		FROM error_log WHERE workflow=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("op=errors.recent: %w", err)
	}
	defer rows.Close()
	var out []domain.ErrorEntry
	for rows.Next() {
		var e domain.ErrorEntry
		if err := rows.Scan(&e.ID, &e.Workflow, &e.Step, &e.Kind, &e.Message, &e.Service,
			&e.PipelineRunID, &e.RetryCount, &e.Resolved, &e.Context, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=errors.recent: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes rows created before the cutoff (90-day
// retention).
func (r *ErrorRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.errors")
	ctx, span := tracer.Start(ctx, "errors.DeleteOlderThan")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM error_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=errors.delete_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
