// Package postgres persists the pipeline's relational state: trends,
// stickers, orders, the run and error ledgers, price history, and the
// pricing reference tables. Repos take a minimal pool interface so
// tests can substitute fakes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool the repos use.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// NewPool creates a pgx connection pool with the otel query tracer
// installed. Workflow processes are short-lived so the pool stays small.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	return pool, nil
}

// isUniqueViolation reports whether err is a unique-index violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Column whitelists per table. Any externally influenced filter key must
// pass AllowedColumn before it reaches SQL text.
var allowedColumns = map[string]map[string]bool{
	"trends": {
		"id": true, "topic": true, "topic_normalized": true, "sources": true,
		"keywords": true, "status": true, "score_overall": true,
		"score_velocity": true, "score_commercial": true, "score_safety": true,
		"score_uniqueness": true, "created_at": true, "updated_at": true,
	},
	"stickers": {
		"id": true, "trend_id": true, "title": true, "product_type": true,
		"price": true, "floor_price": true, "current_pricing_tier": true,
		"moderation_status": true, "etsy_listing_id": true, "published_at": true,
		"sales_count": true, "view_count": true, "last_sale_at": true,
		"fulfillment_provider": true, "created_at": true, "updated_at": true,
	},
	"orders": {
		"id": true, "sticker_id": true, "etsy_receipt_id": true, "status": true,
		"quantity": true, "pricing_tier_at_sale": true, "fulfillment_provider": true,
		"created_at": true, "shipped_at": true, "delivered_at": true,
	},
	"pipeline_runs": {
		"id": true, "workflow": true, "status": true, "started_at": true,
		"ended_at": true,
	},
	"error_log": {
		"id": true, "workflow": true, "step": true, "error_type": true,
		"service": true, "pipeline_run_id": true, "resolved": true,
		"created_at": true,
	},
	"price_history": {
		"id": true, "sticker_id": true, "pricing_tier": true, "reason": true,
		"created_at": true,
	},
	"shipping_rates": {
		"id": true, "product_type": true, "fulfillment_provider": true,
		"is_active": true,
	},
	"pricing_tiers": {
		"id": true, "tier": true,
	},
}

// AllowedColumn reports whether col may appear in a filter expression for
// table. Unknown tables admit nothing.
func AllowedColumn(table, col string) bool {
	return allowedColumns[table][col]
}
