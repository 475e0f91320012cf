package pricing

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

// TierBook resolves tier bands, list prices, and floor prices. Bands
// start from the configured table; RefreshFromStore swaps in the
// store's pricing_tiers rows when they are available. Prices and cost
// fallbacks always come from configuration.
type TierBook struct {
	cfg   config.PricingConfig
	rates domain.RateRepository

	mu    sync.RWMutex
	bands []domain.TierBand
}

func NewTierBook(cfg config.PricingConfig, rates domain.RateRepository) *TierBook {
	return &TierBook{cfg: cfg, rates: rates, bands: cfg.Bands()}
}

// RefreshFromStore replaces the configured bands with the store's tier
// table when it returns a non-empty set. Failures keep the configured
// bands, so pricing keeps working without the store.
func (b *TierBook) RefreshFromStore(ctx context.Context) {
	bands, err := b.rates.GetTierBands(ctx)
	if err != nil {
		slog.Warn("could not load tier bands from store, keeping configured table",
			slog.Any("error", err))
		return
	}
	if len(bands) == 0 {
		return
	}
	b.mu.Lock()
	b.bands = bands
	b.mu.Unlock()
	slog.Info("loaded tier bands from store", slog.Int("bands", len(bands)))
}

// TierForAge scans the band table in order. Bounds are inclusive; a
// nil MaxDays band matches any age at or past MinDays. An age no band
// claims falls back to evergreen.
func (b *TierBook) TierForAge(ageDays int) domain.PricingTier {
	b.mu.RLock()
	bands := b.bands
	b.mu.RUnlock()

	for _, band := range bands {
		if band.MaxDays == nil {
			if ageDays >= band.MinDays {
				return band.Tier
			}
			continue
		}
		if ageDays >= band.MinDays && ageDays <= *band.MaxDays {
			return band.Tier
		}
	}

	slog.Warn("no tier band matched age, defaulting to evergreen",
		slog.Int("age_days", ageDays))
	return domain.TierEvergreen
}

// Price returns the configured list price for a tier and product type.
// Unknown combinations fall back to the built-in defaults; an unknown
// tier prices as evergreen.
func (b *TierBook) Price(tier domain.PricingTier, productType string) float64 {
	pt := normalizeProduct(productType)

	for _, t := range b.cfg.Tiers {
		if t.Tier != tier {
			continue
		}
		if p, ok := t.Prices[pt]; ok {
			return p
		}
		break
	}

	slog.Warn("using fallback price",
		slog.String("tier", string(tier)),
		slog.String("product_type", pt))
	return fallbackPrices(tier)[pt]
}

// FloorFor computes the floor price for a product and fulfillment
// provider, reading shipping and packaging costs from the store. On
// lookup failure the self-fulfilled fallback costs apply; third-party
// fulfillment falls back to zero shipping cost because the provider
// bills shipping separately.
func (b *TierBook) FloorFor(ctx context.Context, productType, provider string) float64 {
	pt := normalizeProduct(productType)
	printCost := b.cfg.PrintCosts[pt]

	var shippingCost, packagingCost float64
	rate, err := b.rates.GetShippingRate(ctx, pt, provider)
	if err != nil {
		slog.Error("failed to load shipping rate",
			slog.String("product_type", pt),
			slog.String("provider", provider),
			slog.Any("error", err))
		if provider == domain.ProviderSelfUSPS {
			shippingCost = b.cfg.FallbackShippingCost
			packagingCost = b.cfg.FallbackPackagingCosts[pt]
		}
	} else {
		shippingCost = rate.ShippingCost
		packagingCost = rate.PackagingCost
	}

	raw := FloorPrice(printCost, shippingCost, packagingCost, b.cfg.FeeRate, b.cfg.MinMargin)
	return RoundToPricePoint(raw)
}

// OverrideThreshold is the sales count at the current tier that freezes
// the price.
func (b *TierBook) OverrideThreshold() int {
	return b.cfg.SalesOverrideThreshold
}

func normalizeProduct(productType string) string {
	if productType == domain.ProductSingleSmall {
		return domain.ProductSingleSmall
	}
	return domain.ProductSingleLarge
}

func fallbackPrices(tier domain.PricingTier) map[string]float64 {
	defaults := config.DefaultPricingConfig()
	var evergreen map[string]float64
	for _, t := range defaults.Tiers {
		if t.Tier == tier {
			return t.Prices
		}
		if t.Tier == domain.TierEvergreen {
			evergreen = t.Prices
		}
	}
	return evergreen
}
