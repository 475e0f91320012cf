// Package main runs one analytics_sync cycle: pull recent receipts,
// route paid orders to fulfillment, enforce data retention, and send
// the daily summary email.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stickertrendz/pipeline/internal/adapter/fulfillment/stickermule"
	"github.com/stickertrendz/pipeline/internal/adapter/repo/postgres"
	"github.com/stickertrendz/pipeline/internal/adapter/storage/r2"
	"github.com/stickertrendz/pipeline/internal/app"
	"github.com/stickertrendz/pipeline/internal/service/fulfillment"
	"github.com/stickertrendz/pipeline/internal/service/metrics"
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

	blobs, err := r2.NewStore(ctx, base.Cfg)
	if err != nil {
		slog.Error("object store init failed", slog.Any("error", err))
		return 1
	}

	sync := &usecase.AnalyticsSync{
		Runner:    base.Runner,
		Governor:  base.Governor,
		Market:    base.Market,
		Orders:    base.Orders,
		Stickers:  base.Stickers,
		Runs:      base.Runs,
		Router:    fulfillment.NewRouter(base.Orders, base.Stickers, stickermule.NewClient(base.Cfg), base.Alerter, base.ErrLog),
		Retention: postgres.NewRetentionService(base.Orders, base.Errors, base.Runs, base.History, blobs),
		Reports:   metrics.NewAggregator(base.Orders, base.Stickers, base.Runs),
		Spend:     base.Spend,
		Retrier:   base.Retrier,
		Alerter:   base.Alerter,
		Cfg:       base.Cfg,
	}

	return sync.Run(ctx)
}
