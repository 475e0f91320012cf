// Package resilience wraps external calls with retry and per-service
// circuit breakers. Every billed or quota-bearing call goes through here.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is allowing requests to pass through.
	StateClosed State = iota
	// StateOpen indicates the circuit is blocking requests due to failures.
	StateOpen
	// StateHalfOpen indicates the circuit is probing recovery with limited requests.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Failure thresholds per service. Sources and the LLM tolerate more noise
// than the marketplace, image generator, database and blob store.
var defaultThresholds = map[string]int{
	"reddit":        5,
	"google_trends": 5,
	"openai":        5,
	"replicate":     3,
	"etsy":          3,
	"postgres":      3,
	"r2":            3,
}

const (
	defaultThreshold = 5
	defaultCooldown  = 60 * time.Second
)

// Breaker tracks consecutive failures for a single external service.
type Breaker struct {
	mu          sync.Mutex
	service     string
	threshold   int
	cooldown    time.Duration
	state       State
	failures    int
	lastFailure time.Time
}

func newBreaker(service string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		service:   service,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
	}
}

// Allow reports whether a call may be issued. An open circuit transitions to
// half-open once the cooldown has passed, admitting a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
			slog.Info("circuit breaker half-open",
				slog.String("service", b.service))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess zeroes the failure counter and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		slog.Info("circuit breaker closed after recovery",
			slog.String("service", b.service))
	} else if b.failures > 0 {
		slog.Debug("circuit breaker reset after success",
			slog.String("service", b.service))
	}
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure counts a failed attempt and opens the circuit at the
// threshold. A failure during a half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			slog.Warn("circuit breaker opened",
				slog.String("service", b.service),
				slog.Int("consecutive_failures", b.failures),
				slog.Int("threshold", b.threshold))
		}
		b.state = StateOpen
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one breaker per service. Each orchestrator constructs a
// fresh registry in main; state is never shared across workflow runs.
type Registry struct {
	mu         sync.Mutex
	breakers   map[string]*Breaker
	thresholds map[string]int
	cooldown   time.Duration
}

// NewRegistry creates a registry with the default per-service thresholds.
func NewRegistry() *Registry {
	return &Registry{
		breakers:   make(map[string]*Breaker),
		thresholds: defaultThresholds,
		cooldown:   defaultCooldown,
	}
}

// Get returns or creates the breaker for a service.
func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}
	threshold, ok := r.thresholds[service]
	if !ok {
		threshold = defaultThreshold
	}
	b := newBreaker(service, threshold, r.cooldown)
	r.breakers[service] = b
	return b
}

// ResetAll drops all breaker state, e.g. at the start of a new run.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}

// Snapshot returns the current state per known service.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for svc, b := range r.breakers {
		out[svc] = b.State()
	}
	return out
}
