package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// PriceHistoryRepo appends price_history rows. The table is append-only;
// the only delete path is the yearly cold-archive purge.
type PriceHistoryRepo struct{ Pool PgxPool }

func NewPriceHistoryRepo(p PgxPool) *PriceHistoryRepo { return &PriceHistoryRepo{Pool: p} }

// Insert appends one price change.
func (r *PriceHistoryRepo) Insert(ctx domain.Context, p domain.PriceChange) error {
	tracer := otel.Tracer("repo.price_history")
	ctx, span := tracer.Start(ctx, "price_history.Insert")
	defer span.End()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := p.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	q := `INSERT INTO price_history (id, sticker_id, old_price, new_price, pricing_tier, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, p.StickerID, p.OldPrice, p.NewPrice, p.Tier, p.Reason, at)
	if err != nil {
		return fmt.Errorf("op=price_history.insert: %w", err)
	}
	return nil
}

// OlderThan returns rows created before the cutoff, oldest first, for the
// CSV cold archive.
func (r *PriceHistoryRepo) OlderThan(ctx domain.Context, cutoff time.Time) ([]domain.PriceChange, error) {
	tracer := otel.Tracer("repo.price_history")
	ctx, span := tracer.Start(ctx, "price_history.OlderThan")
	defer span.End()
	q := `SELECT id, sticker_id, old_price, new_price, pricing_tier, reason, created_at
		FROM price_history WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=price_history.older_than: %w", err)
	}
	defer rows.Close()
	var out []domain.PriceChange
	for rows.Next() {
		var p domain.PriceChange
		if err := rows.Scan(&p.ID, &p.StickerID, &p.OldPrice, &p.NewPrice, &p.Tier, &p.Reason, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=price_history.older_than: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes archived rows from the hot store. Callers must
// have exported them first.
func (r *PriceHistoryRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.price_history")
	ctx, span := tracer.Start(ctx, "price_history.DeleteOlderThan")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM price_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=price_history.delete_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
