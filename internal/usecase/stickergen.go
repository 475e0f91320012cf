package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/internal/service/pricing"
	"github.com/stickertrendz/pipeline/internal/service/resilience"
	"github.com/stickertrendz/pipeline/internal/service/seo"
	"github.com/stickertrendz/pipeline/internal/service/spend"
)

const (
	promptsPerTrend = 3
	// Extra generation attempts allowed per prompt when quality checks
	// reject the image.
	qualityRetries = 2
	// Anything smaller than this is a failed or placeholder render.
	minImageBytes = 1024
)

// StickerGenerator turns discovered trends into moderated, listed
// sticker products.
type StickerGenerator struct {
	Runner     *Runner
	Spend      *spend.Tracker
	Trends     domain.TrendRepository
	Stickers   domain.StickerRepository
	Runs       domain.RunRepository
	AI         domain.AIClient
	Images     domain.ImageClient
	Blobs      domain.ObjectStore
	Market     domain.Marketplace
	SEO        *seo.Generator
	Moderator  *moderation.Moderator
	Tiers      *pricing.TierBook
	Retrier    *resilience.Retrier
	Alerter    domain.Alerter
	Cfg        config.Config
	PricingCfg config.PricingConfig
}

// Run executes one sticker_generator cycle and returns the exit code.
func (g *StickerGenerator) Run(ctx context.Context) int {
	return g.Runner.Execute(ctx, domain.WorkflowStickerGenerator, g.admission, g.body)
}

// admission enforces the monthly AI budget hard stop before any image
// spend happens.
func (g *StickerGenerator) admission(ctx context.Context) (string, error) {
	if status := g.Spend.CheckBudget(ctx); !status.CanProceed {
		return "ai_budget", nil
	}
	// Daily threshold only warns; the cycle still runs.
	g.Spend.CheckDailyBudget(ctx)
	return "", nil
}

func (g *StickerGenerator) body(ctx context.Context, scope *RunScope) error {
	remaining := g.Cfg.MaxImagesPerDay - g.imagesUsedToday(ctx)
	if remaining <= 0 {
		scope.SetMetadata("skipped_generation", "daily_image_cap")
		slog.InfoContext(ctx, "daily image cap reached, nothing to generate")
		return nil
	}

	trends, err := g.Trends.ListByStatus(ctx, domain.TrendDiscovered)
	if err != nil {
		return fmt.Errorf("op=usecase.stickergen: %w", err)
	}

	images := 0
	for _, t := range trends {
		if Deadline(ctx) || remaining <= 0 {
			break
		}
		made, used := g.generateForTrend(ctx, scope, t, remaining)
		remaining -= used
		images += used

		status := domain.TrendGenerated
		if made == 0 {
			status = domain.TrendGenerationFailed
			g.warn(ctx, "Trend generation failed: "+t.Topic,
				fmt.Sprintf("No usable sticker images were produced for trend %q (id %s).", t.Topic, t.ID))
		}
		if err := g.Trends.UpdateStatus(ctx, t.ID, status); err != nil {
			scope.ItemError(ctx, "update_trend_status", "postgres", err, map[string]any{"trend_id": t.ID})
		}
	}

	if swept := g.Moderator.SweepFlagged(ctx); swept > 0 {
		scope.Count(func(c *domain.RunCounts) { c.StickersRejected += swept })
	}

	scope.AddCost(float64(images) * g.Cfg.ReplicateCostPerImage)
	if tc, ok := g.AI.(tokenConsumer); ok {
		in, out := tc.ConsumedTokens()
		scope.AddCost(g.Spend.EstimateCost(in, out, 0))
	}
	return nil
}

// imagesUsedToday reads today's generated-image total back out of the
// run ledger so the cap holds across multiple invocations.
func (g *StickerGenerator) imagesUsedToday(ctx context.Context) int {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	runs, err := g.Runs.ListSince(ctx, start)
	if err != nil {
		slog.WarnContext(ctx, "could not read today's generation usage, assuming zero",
			slog.Any("error", err))
		return 0
	}
	used := 0
	for _, r := range runs {
		if r.Workflow == domain.WorkflowStickerGenerator {
			used += r.Counts.StickersGenerated
		}
	}
	return used
}

// generateForTrend produces up to promptsPerTrend stickers for one
// trend. Returns stickers inserted and images consumed.
func (g *StickerGenerator) generateForTrend(ctx context.Context, scope *RunScope, t domain.Trend, budget int) (made, used int) {
	var prompts []string
	err := g.Retrier.Do(ctx, "openai", func(ctx context.Context) error {
		var perr error
		prompts, perr = g.AI.GeneratePrompts(ctx, t.Topic, promptsPerTrend)
		return perr
	})
	if err != nil {
		scope.ItemError(ctx, "generate_prompts", "openai", err, map[string]any{"trend_id": t.ID})
		return 0, 0
	}

	for _, prompt := range prompts {
		if Deadline(ctx) || used >= budget {
			break
		}
		img, attempts, err := g.generateImage(ctx, prompt, budget-used)
		used += attempts
		if err != nil {
			scope.ItemError(ctx, "generate_image", "replicate", err, map[string]any{"trend_id": t.ID})
			continue
		}
		if g.publishSticker(ctx, scope, t, prompt, img) {
			made++
		}
	}
	return made, used
}

// generateImage runs one prompt with quality retries, nudging the
// prompt on each rejected render. Returns the bytes and how many
// generation calls were consumed.
func (g *StickerGenerator) generateImage(ctx context.Context, prompt string, budget int) ([]byte, int, error) {
	attempts := 0
	var lastErr error
	for try := 0; try <= qualityRetries && attempts < budget; try++ {
		if try > 0 {
			prompt += ", clean vector art, high detail, crisp edges"
		}
		attempts++

		var img []byte
		err := g.Retrier.Do(ctx, "replicate", func(ctx context.Context) error {
			var gerr error
			img, gerr = g.Images.Generate(ctx, prompt, g.Cfg.ReplicateImageSize)
			return gerr
		})
		if err != nil {
			return nil, attempts, err
		}
		if err := checkImageQuality(img); err != nil {
			lastErr = err
			continue
		}
		return img, attempts, nil
	}
	return nil, attempts, fmt.Errorf("op=usecase.generateImage: quality checks exhausted: %w", lastErr)
}

func checkImageQuality(img []byte) error {
	if len(img) < minImageBytes {
		return domain.Failf(domain.KindValidation, "replicate", "image too small: %d bytes", len(img))
	}
	mt := mimetype.Detect(img)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") && !mt.Is("image/webp") {
		return domain.Failf(domain.KindValidation, "replicate", "unexpected image type %s", mt.String())
	}
	return nil
}

// publishSticker uploads the assets, inserts the pending row, runs
// moderation, and lists approved stickers on the marketplace.
func (g *StickerGenerator) publishSticker(ctx context.Context, scope *RunScope, t domain.Trend, prompt string, img []byte) bool {
	id := uuid.NewString()
	ext := mimetype.Detect(img).Extension()

	urls := make(map[string]string, 3)
	for _, variant := range []string{"original", "print", "thumb"} {
		key := fmt.Sprintf("stickers/%s/%s%s", id, variant, ext)
		url, err := g.Blobs.Put(ctx, key, img, mimetype.Detect(img).String())
		if err != nil {
			scope.ItemError(ctx, "upload_image", "r2", err, map[string]any{"trend_id": t.ID, "key": key})
			return false
		}
		urls[variant] = url
	}

	productType := domain.ProductSingleSmall
	tier := domain.TierJustDropped
	now := time.Now().UTC()
	s := domain.Sticker{
		ID:                  id,
		TrendID:             t.ID,
		Title:               g.SEO.Title(t.Topic),
		Description:         g.SEO.Description(t.Topic, productType, ""),
		Tags:                g.SEO.Tags(t.Topic, t.Keywords),
		ImageURL:            urls["print"],
		ThumbnailURL:        urls["thumb"],
		OriginalURL:         urls["original"],
		ProductType:         productType,
		Price:               g.Tiers.Price(tier, productType),
		FloorPrice:          g.Tiers.FloorFor(ctx, productType, domain.ProviderStickerMule),
		BaseCost:            g.PricingCfg.PrintCosts[productType],
		PricingTier:         tier,
		ModerationStatus:    domain.ModerationPending,
		FulfillmentProvider: domain.ProviderStickerMule,
		GenerationPrompt:    prompt,
		GenerationModel:     g.Cfg.ReplicateModelID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if _, err := g.Stickers.Insert(ctx, s); err != nil {
		scope.ItemError(ctx, "insert_sticker", "postgres", err, map[string]any{"trend_id": t.ID})
		return false
	}
	scope.Count(func(c *domain.RunCounts) { c.StickersGenerated++ })

	res := g.Moderator.Apply(ctx, s)
	switch res.Status {
	case domain.ModerationApproved:
		g.listSticker(ctx, scope, s, img)
	case domain.ModerationRejected:
		scope.Count(func(c *domain.RunCounts) { c.StickersRejected++ })
	}
	return true
}

// listSticker runs the create-draft, upload-image, activate chain and
// records the listing on the sticker row. The active-listing cap is
// checked per sticker so concurrent archive churn is respected.
func (g *StickerGenerator) listSticker(ctx context.Context, scope *RunScope, s domain.Sticker, img []byte) {
	active, err := g.Stickers.CountActiveListings(ctx)
	if err != nil {
		scope.ItemError(ctx, "count_active_listings", "postgres", err, map[string]any{"sticker_id": s.ID})
		return
	}
	if active >= g.Cfg.MaxActiveListings {
		scope.SetMetadata("listing_cap_reached", true)
		slog.InfoContext(ctx, "active listing cap reached, sticker stays unlisted",
			slog.String("sticker_id", s.ID))
		return
	}

	var listingID string
	err = g.Retrier.Do(ctx, "etsy", func(ctx context.Context) error {
		var lerr error
		listingID, lerr = g.Market.CreateListing(ctx, s, s.Title, s.Description, s.Tags, s.Price)
		return lerr
	})
	if err == nil {
		err = g.Retrier.Do(ctx, "etsy", func(ctx context.Context) error {
			return g.Market.UploadListingImage(ctx, listingID, img)
		})
	}
	if err == nil {
		err = g.Retrier.Do(ctx, "etsy", func(ctx context.Context) error {
			return g.Market.ActivateListing(ctx, listingID)
		})
	}
	if err != nil {
		// A created draft without activation is left for manual review
		// rather than retried into a duplicate listing.
		scope.ItemError(ctx, "create_listing", "etsy", err, map[string]any{"sticker_id": s.ID})
		return
	}
	scope.AddAPICalls(3)

	if err := g.Stickers.SetListing(ctx, s.ID, listingID, time.Now().UTC()); err != nil {
		scope.ItemError(ctx, "set_listing", "postgres", err, map[string]any{"sticker_id": s.ID})
	}
}

func (g *StickerGenerator) warn(ctx context.Context, subject, body string) {
	if err := g.Alerter.Send(ctx, subject, body, "warning"); err != nil {
		slog.WarnContext(ctx, "alert delivery failed", slog.Any("error", err))
	}
}
