// Package main runs one trend_monitor cycle: poll the trend sources,
// score candidates, and queue qualifiers for generation. The scheduler
// invokes it every two hours; the process exits when the cycle ends.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stickertrendz/pipeline/internal/adapter/ai/openai"
	"github.com/stickertrendz/pipeline/internal/adapter/trendsource"
	"github.com/stickertrendz/pipeline/internal/app"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/dedup"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/internal/usecase"
)

const redditUserAgent = "sticker-pipeline/1.0 (trend monitor)"

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

	monitor := &usecase.TrendMonitor{
		Runner:   base.Runner,
		Governor: base.Governor,
		Spend:    base.Spend,
		Sources: []domain.TrendSource{
			trendsource.NewReddit(redditUserAgent, base.Cfg.RedditSubreddits),
			trendsource.NewGoogleTrends(),
		},
		Trends:     base.Trends,
		Reconciler: dedup.NewReconciler(base.Trends),
		AI:         openai.New(base.Cfg),
		Retrier:    base.Retrier,
		Lists:      moderation.LoadBlocklists(base.Cfg.TrademarkBlocklist, base.Cfg.KeywordBlocklist),
		Alerter:    base.Alerter,
		Cfg:        base.Cfg,
	}

	return monitor.Run(ctx)
}
