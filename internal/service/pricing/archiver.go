package pricing

import (
	"log/slog"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

// ArchiveThresholdDays is how long a listing may sit with zero sales and
// zero views before it is delisted to free a listing slot.
const ArchiveThresholdDays = 14

// Archiver delists stickers that never caught on. It runs ahead of
// repricing so stale listings free slots before new ones are created.
type Archiver struct {
	stickers domain.StickerRepository
	history  domain.PriceHistoryRepository
	market   domain.Marketplace
	errs     *ledger.Errors
	days     int
}

// NewArchiver builds an Archiver. thresholdDays <= 0 selects the default
// archive threshold.
func NewArchiver(
	stickers domain.StickerRepository,
	history domain.PriceHistoryRepository,
	market domain.Marketplace,
	errs *ledger.Errors,
	thresholdDays int,
) *Archiver {
	if thresholdDays <= 0 {
		thresholdDays = ArchiveThresholdDays
	}
	return &Archiver{
		stickers: stickers,
		history:  history,
		market:   market,
		errs:     errs,
		days:     thresholdDays,
	}
}

// Archivable filters the published set down to stickers eligible for
// archival: listed, not already archived, zero sales, zero views, and
// published at least the threshold ago.
func (a *Archiver) Archivable(ctx domain.Context, published []domain.Sticker) []domain.Sticker {
	cutoff := time.Now().UTC().Add(-time.Duration(a.days) * 24 * time.Hour)

	var out []domain.Sticker
	for _, s := range published {
		if s.ModerationStatus == domain.ModerationArchived {
			continue
		}
		if s.SalesCount > 0 || s.ViewCount > 0 {
			continue
		}
		if s.PublishedAt == nil {
			continue
		}
		if s.PublishedAt.After(cutoff) {
			continue
		}
		out = append(out, s)
	}

	slog.Info("found archivable stickers",
		"count", len(out), "threshold_days", a.days)
	return out
}

// Archive delists one sticker: the marketplace listing is deactivated,
// the sticker is marked archived, and a terminal price history row is
// written. A deactivation failure leaves the sticker untouched so the
// local record never claims a listing is down while it is still live.
func (a *Archiver) Archive(ctx domain.Context, s domain.Sticker) bool {
	listingID := ""
	if s.EtsyListingID != nil {
		listingID = *s.EtsyListingID
	}

	if listingID != "" {
		if err := a.market.DeactivateListing(ctx, listingID); err != nil {
			slog.Warn("failed to deactivate listing",
				"sticker_id", s.ID, "listing_id", listingID, "error", err)
			a.errs.Log(ctx, domain.ErrorEntry{
				Workflow: "pricing_engine",
				Step:     "archive",
				Kind:     domain.KindAPIError,
				Message:  err.Error(),
				Service:  "etsy",
				Context: map[string]any{
					"sticker_id": s.ID,
					"listing_id": listingID,
				},
			})
			return false
		}
	}

	if err := a.stickers.Archive(ctx, s.ID); err != nil {
		slog.Error("failed to mark sticker archived",
			"sticker_id", s.ID, "error", err)
		return false
	}

	if err := a.history.Insert(ctx, domain.PriceChange{
		StickerID: s.ID,
		OldPrice:  s.Price,
		NewPrice:  0,
		Tier:      domain.TierArchived,
		Reason:    domain.PriceReasonArchived,
	}); err != nil {
		slog.Warn("failed to record archive price change",
			"sticker_id", s.ID, "error", err)
	}

	slog.Info("archived sticker", "sticker_id", s.ID, "listing_id", listingID)
	return true
}

// Run archives every eligible published sticker and returns how many
// were actually archived. A fetch failure archives nothing.
func (a *Archiver) Run(ctx domain.Context) int {
	published, err := a.stickers.ListPublished(ctx)
	if err != nil {
		slog.Error("failed to fetch published stickers for archival check", "error", err)
		return 0
	}

	archivable := a.Archivable(ctx, published)
	if len(archivable) == 0 {
		slog.Info("no stickers to archive")
		return 0
	}

	archived := 0
	for _, s := range archivable {
		if a.Archive(ctx, s) {
			archived++
		}
	}

	slog.Info("archiver pass done",
		"archived", archived, "eligible", len(archivable))
	return archived
}
