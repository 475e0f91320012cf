package pricing

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
)

const (
	// Age in days past which a sticker without recent sales is either
	// archived (zero lifetime sales) or parked in the evergreen tier.
	evergreenAgeDays = 30

	// A sale within this window counts as recent.
	recentSalesWindow = 14 * 24 * time.Hour
)

// Outcome reports what Reprice decided for one sticker.
type Outcome string

const (
	// OutcomeNoChange means price and tier already match the target.
	OutcomeNoChange Outcome = "no_change"
	// OutcomeSkipped means the sticker is archived and was not touched.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeLeftToArchiver means the sticker aged out with zero sales
	// and the archiver owns its fate.
	OutcomeLeftToArchiver Outcome = "left_to_archiver"
	// OutcomeTierOnly means the sales override kept the price but the
	// recorded tier moved.
	OutcomeTierOnly Outcome = "tier_only"
	// OutcomeRepriced means the listing price was changed.
	OutcomeRepriced Outcome = "repriced"
)

// Engine decides and applies per-sticker price changes from trend age,
// the sales override, and the floor price.
type Engine struct {
	book     *TierBook
	trends   domain.TrendRepository
	stickers domain.StickerRepository
	orders   domain.OrderRepository
	history  domain.PriceHistoryRepository
	market   domain.Marketplace
}

func NewEngine(
	book *TierBook,
	trends domain.TrendRepository,
	stickers domain.StickerRepository,
	orders domain.OrderRepository,
	history domain.PriceHistoryRepository,
	market domain.Marketplace,
) *Engine {
	return &Engine{
		book:     book,
		trends:   trends,
		stickers: stickers,
		orders:   orders,
		history:  history,
		market:   market,
	}
}

// Reprice moves one sticker to the price its trend age calls for.
//
// Archived stickers are skipped. Stickers past the evergreen age with no
// recent sales are left to the archiver when they never sold, or parked
// in the evergreen tier when they have historical sales. A sticker with
// proven demand (the sales override) keeps its price and only follows
// tier changes. Otherwise the tier price is clamped to the floor, rounded
// to a price point, pushed to the marketplace listing, and recorded in
// price history.
//
// A marketplace update failure is returned to the caller so the run can
// count it and move on; local persistence failures after a successful
// marketplace update are logged and swallowed so the listing and the
// ledger do not diverge further.
func (e *Engine) Reprice(ctx domain.Context, s domain.Sticker) (Outcome, error) {
	if s.ModerationStatus == domain.ModerationArchived || s.PricingTier == domain.TierArchived {
		return OutcomeSkipped, nil
	}

	age := e.trendAgeDays(ctx, s)
	newTier := e.book.TierForAge(age)

	if age >= evergreenAgeDays && !hasRecentSales(s) {
		if s.SalesCount == 0 {
			return OutcomeLeftToArchiver, nil
		}
		newTier = domain.TierEvergreen
	}

	if e.salesOverride(ctx, s) {
		slog.Debug("sales override keeps price",
			"sticker_id", s.ID, "tier", s.PricingTier, "price", s.Price)
		if newTier == s.PricingTier {
			return OutcomeNoChange, nil
		}
		if err := e.stickers.UpdateTier(ctx, s.ID, newTier); err != nil {
			slog.Error("failed to update sticker tier",
				"sticker_id", s.ID, "tier", newTier, "error", err)
		}
		return OutcomeTierOnly, nil
	}

	newPrice := e.book.Price(newTier, s.ProductType)
	floor := e.book.FloorFor(ctx, s.ProductType, s.FulfillmentProvider)
	if newPrice < floor {
		slog.Info("price below floor, using floor",
			"sticker_id", s.ID, "price", newPrice, "floor", floor)
		newPrice = floor
	}
	newPrice = RoundToPricePoint(newPrice)

	if math.Abs(newPrice-s.Price) < 0.01 && newTier == s.PricingTier {
		return OutcomeNoChange, nil
	}

	if s.EtsyListingID != nil && *s.EtsyListingID != "" {
		if err := e.market.UpdatePrice(ctx, *s.EtsyListingID, newPrice); err != nil {
			return OutcomeNoChange, fmt.Errorf(
				"op=pricing.Reprice sticker_id=%s listing_id=%s: %w", s.ID, *s.EtsyListingID, err)
		}
	}

	if err := e.stickers.UpdatePricing(ctx, s.ID, newPrice, floor, newTier); err != nil {
		slog.Error("failed to persist sticker price",
			"sticker_id", s.ID, "price", newPrice, "error", err)
	}

	reason := PriceChangeReason(s.PricingTier, newTier)
	if err := e.history.Insert(ctx, domain.PriceChange{
		StickerID: s.ID,
		OldPrice:  s.Price,
		NewPrice:  newPrice,
		Tier:      newTier,
		Reason:    reason,
	}); err != nil {
		slog.Warn("failed to record price change",
			"sticker_id", s.ID, "error", err)
	}

	slog.Info("repriced sticker",
		"sticker_id", s.ID,
		"old_price", s.Price, "new_price", newPrice,
		"old_tier", s.PricingTier, "new_tier", newTier,
		"reason", reason)
	return OutcomeRepriced, nil
}

// PriceChangeReason names why a price moved for the price history row.
func PriceChangeReason(oldTier, newTier domain.PricingTier) string {
	if oldTier != newTier {
		return fmt.Sprintf("tier_change:%s->%s", oldTier, newTier)
	}
	return domain.PriceReasonTrendAge
}

// trendAgeDays is the whole days since the sticker's trend was first
// seen, falling back to the sticker's own age when the trend row is
// missing. Never negative.
func (e *Engine) trendAgeDays(ctx domain.Context, s domain.Sticker) int {
	created := s.CreatedAt
	if s.TrendID != "" {
		t, err := e.trends.Get(ctx, s.TrendID)
		if err != nil {
			slog.Warn("trend lookup failed, using sticker age",
				"sticker_id", s.ID, "trend_id", s.TrendID, "error", err)
		} else {
			created = t.CreatedAt
		}
	}
	if created.IsZero() {
		return 0
	}
	days := int(time.Since(created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func hasRecentSales(s domain.Sticker) bool {
	if s.LastSaleAt == nil {
		return false
	}
	return time.Since(*s.LastSaleAt) <= recentSalesWindow
}

// salesOverride reports whether demand is proven at the current tier.
// A count failure disables the override so stale data cannot freeze a
// price forever.
func (e *Engine) salesOverride(ctx domain.Context, s domain.Sticker) bool {
	n, err := e.orders.CountByStickerAndTier(ctx, s.ID, s.PricingTier)
	if err != nil {
		slog.Error("failed to count sales at current tier",
			"sticker_id", s.ID, "tier", s.PricingTier, "error", err)
		return false
	}
	return n >= e.book.OverrideThreshold()
}
