// Package main runs one sticker_generator cycle: turn discovered
// trends into moderated, listed stickers. The scheduler invokes it
// when trend_monitor signals new work.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stickertrendz/pipeline/internal/adapter/ai/openai"
	"github.com/stickertrendz/pipeline/internal/adapter/image/replicate"
	"github.com/stickertrendz/pipeline/internal/adapter/storage/r2"
	"github.com/stickertrendz/pipeline/internal/app"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/internal/service/pricing"
	"github.com/stickertrendz/pipeline/internal/service/seo"
	"github.com/stickertrendz/pipeline/internal/usecase"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	base, err := app.Bootstrap(ctx)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		return 1
	}
	defer base.Shutdown()

	pricingCfg, err := config.LoadPricingConfig(base.Cfg.PricingConfigPath)
	if err != nil {
		slog.Warn("pricing config load failed, using defaults", slog.Any("error", err))
	}

	blobs, err := r2.NewStore(ctx, base.Cfg)
	if err != nil {
		slog.Error("object store init failed", slog.Any("error", err))
		return 1
	}

	ai := openai.New(base.Cfg)
	lists := moderation.LoadBlocklists(base.Cfg.TrademarkBlocklist, base.Cfg.KeywordBlocklist)

	generator := &usecase.StickerGenerator{
		Runner:     base.Runner,
		Spend:      base.Spend,
		Trends:     base.Trends,
		Stickers:   base.Stickers,
		Runs:       base.Runs,
		AI:         ai,
		Images:     replicate.New(base.Cfg),
		Blobs:      blobs,
		Market:     base.Market,
		SEO:        seo.NewGenerator(lists),
		Moderator:  moderation.NewModerator(lists, ai, base.Stickers, base.Alerter, base.ErrLog),
		Tiers:      pricing.NewTierBook(pricingCfg, base.Rates),
		Retrier:    base.Retrier,
		Alerter:    base.Alerter,
		Cfg:        base.Cfg,
		PricingCfg: pricingCfg,
	}

	return generator.Run(ctx)
}
