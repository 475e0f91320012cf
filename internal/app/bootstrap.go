package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/stickertrendz/pipeline/internal/adapter/alert/email"
	"github.com/stickertrendz/pipeline/internal/adapter/marketplace/etsy"
	"github.com/stickertrendz/pipeline/internal/adapter/observability"
	"github.com/stickertrendz/pipeline/internal/adapter/repo/postgres"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
	"github.com/stickertrendz/pipeline/internal/service/ratelimiter"
	"github.com/stickertrendz/pipeline/internal/service/resilience"
	"github.com/stickertrendz/pipeline/internal/service/spend"
	"github.com/stickertrendz/pipeline/internal/usecase"
)

// Base carries the infrastructure every workflow main shares: stores,
// ledgers, the API governor, the marketplace client, and the runner
// skeleton. Each main builds its own orchestrator on top of it.
type Base struct {
	Cfg      config.Config
	Pool     *pgxpool.Pool
	RDB      *redis.Client
	Governor *ratelimiter.Governor
	Runner   *usecase.Runner
	RunLog   *ledger.Runs
	ErrLog   *ledger.Errors
	Alerter  domain.Alerter
	Retrier  *resilience.Retrier
	Spend    *spend.Tracker
	Market   *etsy.Client

	Trends   *postgres.TrendRepo
	Stickers *postgres.StickerRepo
	Orders   *postgres.OrderRepo
	Runs     *postgres.RunRepo
	Errors   *postgres.ErrorRepo
	History  *postgres.PriceHistoryRepo
	Rates    *postgres.RateRepo

	stopOps        func()
	shutdownTracer func(context.Context) error
}

// Bootstrap loads configuration, sets up logging, metrics and tracing,
// connects Postgres and Redis, and starts the ops HTTP server. The
// caller owns the returned Base and must call Shutdown when the run
// finishes.
func Bootstrap(ctx context.Context) (*Base, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("op=app.Bootstrap: %w", err)
	}

	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Warn("tracing setup failed, continuing without it", slog.Any("error", err))
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.Bootstrap: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	governor := ratelimiter.NewGovernor(rdb, cfg.EtsyDailyLimit, cfg.RedisTimeout)

	runRepo := postgres.NewRunRepo(pool)
	errRepo := postgres.NewErrorRepo(pool)
	runLog := ledger.NewRuns(runRepo)
	errLog := ledger.NewErrors(errRepo)

	mailer := email.NewMailer(cfg)

	tokens := etsy.NewTokenManager(postgres.NewTokenRepo(pool), cfg.EtsyAPIKey, cfg.ExternalCallTimeout)
	market := etsy.NewClient(cfg, tokens, governor)

	stopOps, opsErrs := StartOps(cfg.OpsAddr, BuildOpsRouter(map[string]Check{
		"db":    DBCheck(pool),
		"redis": RedisCheck(rdb),
	}))
	go func() {
		for err := range opsErrs {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	return &Base{
		Cfg:      cfg,
		Pool:     pool,
		RDB:      rdb,
		Governor: governor,
		Runner: &usecase.Runner{
			Locks:   governor,
			Runs:    runLog,
			Errors:  errLog,
			Alerter: mailer,
		},
		RunLog:  runLog,
		ErrLog:  errLog,
		Alerter: mailer,
		Retrier: resilience.NewRetrier(cfg.GetRetryConfig(), resilience.NewRegistry()),
		Spend:   spend.NewTracker(runRepo, mailer, cfg),
		Market:  market,

		Trends:   postgres.NewTrendRepo(pool),
		Stickers: postgres.NewStickerRepo(pool),
		Orders:   postgres.NewOrderRepo(pool),
		Runs:     runRepo,
		Errors:   errRepo,
		History:  postgres.NewPriceHistoryRepo(pool),
		Rates:    postgres.NewRateRepo(pool),

		stopOps:        stopOps,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Shutdown releases everything Bootstrap opened, in reverse order.
func (b *Base) Shutdown() {
	b.stopOps()
	if b.shutdownTracer != nil {
		_ = b.shutdownTracer(context.Background())
	}
	if err := b.RDB.Close(); err != nil {
		slog.Error("failed to close redis client", slog.Any("error", err))
	}
	b.Pool.Close()
}
