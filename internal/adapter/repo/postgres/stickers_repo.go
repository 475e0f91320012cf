package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// StickerRepo persists listed products.
type StickerRepo struct{ Pool PgxPool }

func NewStickerRepo(p PgxPool) *StickerRepo { return &StickerRepo{Pool: p} }

const stickerColumns = `id, trend_id, title, description, tags, image_url,
	thumbnail_url, original_url, product_type, price, floor_price, base_cost,
	current_pricing_tier, moderation_status, moderation_score, etsy_listing_id,
	published_at, sales_count, view_count, last_sale_at, fulfillment_provider,
	generation_prompt, generation_model, created_at, updated_at`

func scanSticker(row pgx.Row) (domain.Sticker, error) {
	var s domain.Sticker
	err := row.Scan(&s.ID, &s.TrendID, &s.Title, &s.Description, &s.Tags, &s.ImageURL,
		&s.ThumbnailURL, &s.OriginalURL, &s.ProductType, &s.Price, &s.FloorPrice, &s.BaseCost,
		&s.PricingTier, &s.ModerationStatus, &s.ModerationScore, &s.EtsyListingID,
		&s.PublishedAt, &s.SalesCount, &s.ViewCount, &s.LastSaleAt, &s.FulfillmentProvider,
		&s.GenerationPrompt, &s.GenerationModel, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Insert stores a new sticker and returns its id.
func (r *StickerRepo) Insert(ctx domain.Context, s domain.Sticker) (string, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.Insert")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO stickers (id, trend_id, title, description, tags, image_url,
		thumbnail_url, original_url, product_type, price, floor_price, base_cost,
		current_pricing_tier, moderation_status, moderation_score, etsy_listing_id,
		published_at, sales_count, view_count, last_sale_at, fulfillment_provider,
		generation_prompt, generation_model, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`
	_, err := r.Pool.Exec(ctx, q, id, s.TrendID, s.Title, s.Description, s.Tags, s.ImageURL,
		s.ThumbnailURL, s.OriginalURL, s.ProductType, s.Price, s.FloorPrice, s.BaseCost,
		s.PricingTier, s.ModerationStatus, s.ModerationScore, s.EtsyListingID,
		s.PublishedAt, s.SalesCount, s.ViewCount, s.LastSaleAt, s.FulfillmentProvider,
		s.GenerationPrompt, s.GenerationModel, now, now)
	if err != nil {
		return "", fmt.Errorf("op=stickers.insert: %w", err)
	}
	return id, nil
}

// Get loads a sticker by id.
func (r *StickerRepo) Get(ctx domain.Context, id string) (domain.Sticker, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.Get")
	defer span.End()
	q := `SELECT ` + stickerColumns + ` FROM stickers WHERE id=$1`
	s, err := scanSticker(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sticker{}, fmt.Errorf("op=stickers.get: %w", domain.ErrNotFound)
		}
		return domain.Sticker{}, fmt.Errorf("op=stickers.get: %w", err)
	}
	return s, nil
}

// GetByListingID loads the sticker behind a marketplace listing.
func (r *StickerRepo) GetByListingID(ctx domain.Context, listingID string) (domain.Sticker, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.GetByListingID")
	defer span.End()
	q := `SELECT ` + stickerColumns + ` FROM stickers WHERE etsy_listing_id=$1`
	s, err := scanSticker(r.Pool.QueryRow(ctx, q, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sticker{}, fmt.Errorf("op=stickers.get_by_listing: %w", domain.ErrNotFound)
		}
		return domain.Sticker{}, fmt.Errorf("op=stickers.get_by_listing: %w", err)
	}
	return s, nil
}

// ListPublished returns every listed, non-archived sticker: the set the
// pricing cycle walks.
func (r *StickerRepo) ListPublished(ctx domain.Context) ([]domain.Sticker, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.ListPublished")
	defer span.End()
	q := `SELECT ` + stickerColumns + ` FROM stickers
		WHERE etsy_listing_id IS NOT NULL AND moderation_status <> 'archived'
		ORDER BY published_at ASC`
	return r.list(ctx, q)
}

// ListByModerationStatus returns stickers in one moderation status.
func (r *StickerRepo) ListByModerationStatus(ctx domain.Context, status domain.ModerationStatus) ([]domain.Sticker, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.ListByModerationStatus")
	defer span.End()
	q := `SELECT ` + stickerColumns + ` FROM stickers WHERE moderation_status=$1 ORDER BY created_at ASC`
	return r.list(ctx, q, status)
}

func (r *StickerRepo) list(ctx domain.Context, q string, args ...any) ([]domain.Sticker, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=stickers.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Sticker
	for rows.Next() {
		s, err := scanSticker(rows)
		if err != nil {
			return nil, fmt.Errorf("op=stickers.list: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountActiveListings counts stickers holding a marketplace slot: listed
// and not archived.
func (r *StickerRepo) CountActiveListings(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.CountActiveListings")
	defer span.End()
	q := `SELECT count(*) FROM stickers
		WHERE etsy_listing_id IS NOT NULL AND moderation_status <> 'archived'`
	var n int
	if err := r.Pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=stickers.count_active: %w", err)
	}
	return n, nil
}

// CountPublishedBetween counts stickers published inside a window; the
// generator uses the current UTC day for its image cap.
func (r *StickerRepo) CountPublishedBetween(ctx domain.Context, from, until time.Time) (int, error) {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.CountPublishedBetween")
	defer span.End()
	q := `SELECT count(*) FROM stickers WHERE created_at >= $1 AND created_at < $2`
	var n int
	if err := r.Pool.QueryRow(ctx, q, from, until).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=stickers.count_published: %w", err)
	}
	return n, nil
}

// UpdatePricing stores a new price, floor and tier together.
func (r *StickerRepo) UpdatePricing(ctx domain.Context, id string, price, floor float64, tier domain.PricingTier) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.UpdatePricing")
	defer span.End()
	q := `UPDATE stickers SET price=$2, floor_price=$3, current_pricing_tier=$4, updated_at=$5 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, price, floor, tier, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.update_pricing: %w", err)
	}
	return nil
}

// UpdateTier moves the recorded tier without touching the price; the
// sales-override path.
func (r *StickerRepo) UpdateTier(ctx domain.Context, id string, tier domain.PricingTier) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.UpdateTier")
	defer span.End()
	q := `UPDATE stickers SET current_pricing_tier=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, tier, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.update_tier: %w", err)
	}
	return nil
}

// Archive sets both the moderation status and the pricing tier to
// archived in one statement so the invariant cannot be half-applied.
func (r *StickerRepo) Archive(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.Archive")
	defer span.End()
	q := `UPDATE stickers SET moderation_status='archived', current_pricing_tier='archived', updated_at=$2 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.archive: %w", err)
	}
	return nil
}

// UpdateModeration stores a moderation verdict.
func (r *StickerRepo) UpdateModeration(ctx domain.Context, id string, status domain.ModerationStatus, score float64) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.UpdateModeration")
	defer span.End()
	q := `UPDATE stickers SET moderation_status=$2, moderation_score=$3, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.update_moderation: %w", err)
	}
	return nil
}

// SetListing records a successful marketplace publication.
func (r *StickerRepo) SetListing(ctx domain.Context, id string, listingID string, publishedAt time.Time) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.SetListing")
	defer span.End()
	q := `UPDATE stickers SET etsy_listing_id=$2, published_at=$3, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, listingID, publishedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.set_listing: %w", err)
	}
	return nil
}

// IncrementSales bumps the sales counter and last-sale stamp on order
// ingestion. Applied only on first insert of a receipt, so replays of the
// same receipt cannot double-count.
func (r *StickerRepo) IncrementSales(ctx domain.Context, id string, qty int, at time.Time) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.IncrementSales")
	defer span.End()
	q := `UPDATE stickers SET sales_count = sales_count + $2, last_sale_at=$3, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, qty, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.increment_sales: %w", err)
	}
	return nil
}

// SetViewCount stores a refreshed marketplace view count.
func (r *StickerRepo) SetViewCount(ctx domain.Context, id string, views int) error {
	tracer := otel.Tracer("repo.stickers")
	ctx, span := tracer.Start(ctx, "stickers.SetViewCount")
	defer span.End()
	q := `UPDATE stickers SET view_count=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, views, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=stickers.set_view_count: %w", err)
	}
	return nil
}
