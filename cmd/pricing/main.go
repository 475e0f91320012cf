// Package main runs one pricing_engine cycle: age listings through the
// pricing tiers, archive dead ones, and push price changes to the
// marketplace.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stickertrendz/pipeline/internal/app"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/service/pricing"
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

	book := pricing.NewTierBook(pricingCfg, base.Rates)

	engine := &usecase.PricingRun{
		Runner:   base.Runner,
		Governor: base.Governor,
		Stickers: base.Stickers,
		Engine:   pricing.NewEngine(book, base.Trends, base.Stickers, base.Orders, base.History, base.Market),
		Archiver: pricing.NewArchiver(base.Stickers, base.History, base.Market, base.ErrLog, 0),
		Tiers:    book,
	}

	return engine.Run(ctx)
}
