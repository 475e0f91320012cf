package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// RunRepo writes the pipeline_runs ledger. Row ids are ULIDs generated by
// the ledger service, not here.
type RunRepo struct{ Pool PgxPool }

func NewRunRepo(p PgxPool) *RunRepo { return &RunRepo{Pool: p} }

// Insert stores a fresh status=started row.
func (r *RunRepo) Insert(ctx domain.Context, run domain.PipelineRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.Insert")
	defer span.End()
	q := `INSERT INTO pipeline_runs (id, workflow, status, started_at, metadata)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, run.ID, run.Workflow, run.Status, run.StartedAt, run.Metadata)
	if err != nil {
		return fmt.Errorf("op=runs.insert: %w", err)
	}
	return nil
}

// Finish writes the terminal status and metrics onto an existing row.
func (r *RunRepo) Finish(ctx domain.Context, run domain.PipelineRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.Finish")
	defer span.End()
	q := `UPDATE pipeline_runs SET status=$2, ended_at=$3, duration_seconds=$4,
		trends_found=$5, stickers_generated=$6, stickers_rejected=$7,
		prices_updated=$8, stickers_archived=$9, orders_synced=$10,
		orders_fulfilled=$11, errors_count=$12, etsy_api_calls_used=$13,
		ai_cost_estimate_usd=$14, error_message=$15, metadata=$16
		WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, run.ID, run.Status, run.EndedAt, run.DurationSeconds,
		run.Counts.TrendsFound, run.Counts.StickersGenerated, run.Counts.StickersRejected,
		run.Counts.PricesUpdated, run.Counts.StickersArchived, run.Counts.OrdersSynced,
		run.Counts.OrdersFulfilled, run.Counts.ErrorsCount, run.APICallsUsed,
		run.AICostUSD, run.ErrorMessage, run.Metadata)
	if err != nil {
		return fmt.Errorf("op=runs.finish: %w", err)
	}
	return nil
}

// SumCostSince totals ai_cost_estimate_usd over runs started in
// [since, until). Null costs count as zero.
func (r *RunRepo) SumCostSince(ctx domain.Context, since, until time.Time) (float64, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.SumCostSince")
	defer span.End()
	q := `SELECT COALESCE(SUM(COALESCE(ai_cost_estimate_usd, 0)), 0)
		FROM pipeline_runs WHERE started_at >= $1 AND started_at < $2`
	var sum float64
	if err := r.Pool.QueryRow(ctx, q, since, until).Scan(&sum); err != nil {
		return 0, fmt.Errorf("op=runs.sum_cost: %w", err)
	}
	return sum, nil
}

// ListSince returns runs started at or after the cutoff, newest first.
func (r *RunRepo) ListSince(ctx domain.Context, since time.Time) ([]domain.PipelineRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.ListSince")
	defer span.End()
	q := `SELECT id, workflow, status, started_at, ended_at, duration_seconds,
		trends_found, stickers_generated, stickers_rejected, prices_updated,
		stickers_archived, orders_synced, orders_fulfilled, errors_count,
		etsy_api_calls_used, ai_cost_estimate_usd, COALESCE(error_message,''), metadata
		FROM pipeline_runs WHERE started_at >= $1 ORDER BY started_at DESC`
	rows, err := r.Pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("op=runs.list_since: %w", err)
	}
	defer rows.Close()
	var out []domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("op=runs.list_since: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := row.Scan(&run.ID, &run.Workflow, &run.Status, &run.StartedAt, &run.EndedAt,
		&run.DurationSeconds, &run.Counts.TrendsFound, &run.Counts.StickersGenerated,
		&run.Counts.StickersRejected, &run.Counts.PricesUpdated, &run.Counts.StickersArchived,
		&run.Counts.OrdersSynced, &run.Counts.OrdersFulfilled, &run.Counts.ErrorsCount,
		&run.APICallsUsed, &run.AICostUSD, &run.ErrorMessage, &run.Metadata)
	return run, err
}

// DeleteOlderThan removes runs started before the cutoff (180-day
// retention).
func (r *RunRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.DeleteOlderThan")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=runs.delete_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
