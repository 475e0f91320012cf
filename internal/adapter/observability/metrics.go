package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	WorkflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of pipeline runs by workflow and terminal status",
		},
		[]string{"workflow", "status"},
	)
	WorkflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"workflow"},
	)

	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_calls_total",
			Help: "Total number of external service calls by service and outcome",
		},
		[]string{"service", "outcome"},
	)
	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_duration_seconds",
			Help:    "External service call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	APICallsToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "etsy_api_calls_today",
			Help: "Shared Etsy API call counter value for the current UTC day",
		},
	)
	AISpendMonthUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_spend_month_usd",
			Help: "Recorded AI spend for the current calendar month in USD",
		},
	)

	TrendsDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trends_discovered_total",
			Help: "Total number of trends stored with discovered status",
		},
	)
	StickersGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stickers_generated_total",
			Help: "Total number of stickers generated",
		},
	)
	PricesUpdatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prices_updated_total",
			Help: "Total number of sticker price updates pushed",
		},
	)
	StickersArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stickers_archived_total",
			Help: "Total number of stickers archived for zero traction",
		},
	)
	OrdersSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_synced_total",
			Help: "Total number of marketplace orders ingested",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 open, 2 half-open)",
		},
		[]string{"service"},
	)
	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_lock_acquisitions_total",
			Help: "Workflow lock acquisition attempts by workflow and outcome",
		},
		[]string{"workflow", "outcome"},
	)

	// Trend score distribution mirrors the 1-10 scoring scale.
	TrendScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trend_overall_score",
			Help:    "Distribution of overall trend scores ([1,10])",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(WorkflowRunsTotal)
		prometheus.MustRegister(WorkflowDuration)
		prometheus.MustRegister(ExternalCallsTotal)
		prometheus.MustRegister(ExternalCallDuration)
		prometheus.MustRegister(APICallsToday)
		prometheus.MustRegister(AISpendMonthUSD)
		prometheus.MustRegister(TrendsDiscoveredTotal)
		prometheus.MustRegister(StickersGeneratedTotal)
		prometheus.MustRegister(PricesUpdatedTotal)
		prometheus.MustRegister(StickersArchivedTotal)
		prometheus.MustRegister(OrdersSyncedTotal)
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(LockAcquisitionsTotal)
		prometheus.MustRegister(TrendScoreHistogram)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// StartRun records a workflow run beginning.
func StartRun(workflow string) {
	WorkflowRunsTotal.WithLabelValues(workflow, "started").Inc()
}

// FinishRun records a workflow run reaching a terminal status.
func FinishRun(workflow, status string, duration time.Duration) {
	WorkflowRunsTotal.WithLabelValues(workflow, status).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordExternalCall records one external service call and its latency.
func RecordExternalCall(service, outcome string, duration time.Duration) {
	ExternalCallsTotal.WithLabelValues(service, outcome).Inc()
	ExternalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBreakerState mirrors a circuit breaker state into the gauge.
func RecordBreakerState(service string, state int) {
	CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordLockAttempt records a workflow lock acquisition outcome.
func RecordLockAttempt(workflow string, acquired bool) {
	outcome := "denied"
	if acquired {
		outcome = "acquired"
	}
	LockAcquisitionsTotal.WithLabelValues(workflow, outcome).Inc()
}

// ObserveTrendScore records the overall score of a scored trend.
func ObserveTrendScore(score float64) {
	if score >= 1 && score <= 10 {
		TrendScoreHistogram.Observe(score)
	}
}
