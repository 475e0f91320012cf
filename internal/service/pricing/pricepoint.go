// Package pricing implements the per-sticker pricing state machine:
// age-based tier assignment, floor-price enforcement, psychological
// price-point rounding, the sales override, and stale-listing archival.
package pricing

import (
	"log/slog"
	"math"
)

const (
	defaultFeeRate   = 0.10
	defaultMinMargin = 0.20
)

// RoundToPricePoint rounds up to the nearest price ending in .49 or
// .99: the smallest of floor(p)+0.49, floor(p)+0.99, floor(p)+1.49
// that is >= p. Non-positive input returns 0.49. Prices already at a
// valid point are unchanged, so the rounding is idempotent.
func RoundToPricePoint(price float64) float64 {
	if price <= 0 {
		return 0.49
	}
	base := math.Floor(price)
	for _, candidate := range [3]float64{base + 0.49, base + 0.99, base + 1.49} {
		if candidate >= price {
			return candidate
		}
	}
	return base + 1.49
}

// FloorPrice is the minimum profitable price:
// (print + shipping + packaging) / (1 - feeRate) / (1 - minMargin),
// rounded to cents. Rates of 1.0 or more are invalid and fall back to
// the 10% fee / 20% margin defaults.
func FloorPrice(printCost, shippingCost, packagingCost, feeRate, minMargin float64) float64 {
	if feeRate >= 1 || minMargin >= 1 {
		slog.Warn("invalid fee rate or margin, using defaults",
			slog.Float64("fee_rate", feeRate),
			slog.Float64("min_margin", minMargin))
		feeRate = defaultFeeRate
		minMargin = defaultMinMargin
	}
	total := printCost + shippingCost + packagingCost
	floor := total / (1 - feeRate) / (1 - minMargin)
	return math.Round(floor*100) / 100
}
