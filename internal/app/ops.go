// Package app hosts the per-run operational HTTP surface. Every
// workflow main starts it for the life of the run so the scheduler's
// probes and the metrics scraper can see short-lived processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/stickertrendz/pipeline/internal/adapter/observability"
)

// Check is one readiness probe.
type Check func(ctx context.Context) error

// Pinger is the slice of a database pool readiness needs.
type Pinger interface{ Ping(ctx context.Context) error }

// DBCheck probes the relational store.
func DBCheck(pool Pinger) Check {
	return func(ctx context.Context) error {
		if pool == nil {
			return errors.New("db not configured")
		}
		return pool.Ping(ctx)
	}
}

// RedisCheck probes the coordination store.
func RedisCheck(rdb redis.UniversalClient) Check {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}

// BuildOpsRouter constructs the ops handler: /healthz liveness,
// /readyz running the given checks, /metrics for Prometheus.
func BuildOpsRouter(checks map[string]Check) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.HTTPMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		var failed []string
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", name, err))
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			http.Error(w, strings.Join(failed, "\n"), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// StartOps serves the handler on addr until the returned stop function
// is called. Listen failures are surfaced through the returned error
// channel; a busy port must not stop a batch run.
func StartOps(addr string, handler http.Handler) (stop func(), errc <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ch := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ch <- err
		}
		close(ch)
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, ch
}
