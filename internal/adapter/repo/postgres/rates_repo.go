package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// RateRepo reads the pricing reference tables: shipping_rates and the
// tier-boundary rows seeded from the pricing YAML.
type RateRepo struct{ Pool PgxPool }

func NewRateRepo(p PgxPool) *RateRepo { return &RateRepo{Pool: p} }

// GetShippingRate loads the active cost row for one (product type,
// provider) pair. Absence surfaces as domain.ErrNotFound so the tier
// book can apply its fallback costs.
func (r *RateRepo) GetShippingRate(ctx domain.Context, productType, provider string) (domain.ShippingRate, error) {
	tracer := otel.Tracer("repo.rates")
	ctx, span := tracer.Start(ctx, "rates.GetShippingRate")
	defer span.End()
	q := `SELECT product_type, fulfillment_provider, shipping_cost, packaging_cost
		FROM shipping_rates WHERE product_type=$1 AND fulfillment_provider=$2 AND is_active`
	var sr domain.ShippingRate
	err := r.Pool.QueryRow(ctx, q, productType, provider).Scan(
		&sr.ProductType, &sr.FulfillmentProvider, &sr.ShippingCost, &sr.PackagingCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ShippingRate{}, fmt.Errorf("op=rates.get_shipping: %w", domain.ErrNotFound)
		}
		return domain.ShippingRate{}, fmt.Errorf("op=rates.get_shipping: %w", err)
	}
	return sr, nil
}

// GetTierBands loads the tier table in scan order.
func (r *RateRepo) GetTierBands(ctx domain.Context) ([]domain.TierBand, error) {
	tracer := otel.Tracer("repo.rates")
	ctx, span := tracer.Start(ctx, "rates.GetTierBands")
	defer span.End()
	q := `SELECT tier, min_trend_age_days, max_trend_age_days
		FROM pricing_tiers ORDER BY min_trend_age_days ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=rates.get_tier_bands: %w", err)
	}
	defer rows.Close()
	var out []domain.TierBand
	for rows.Next() {
		var b domain.TierBand
		if err := rows.Scan(&b.Tier, &b.MinDays, &b.MaxDays); err != nil {
			return nil, fmt.Errorf("op=rates.get_tier_bands: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
