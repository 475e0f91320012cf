package resilience

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	reg := NewRegistry()
	b := reg.Get("etsy")

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("two failures must not open a threshold-3 breaker")
	}
	if !b.Allow() {
		t.Fatalf("closed breaker must allow")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("third failure must open the breaker")
	}
	if b.Allow() {
		t.Fatalf("open breaker must deny")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	reg := NewRegistry()
	b := reg.Get("reddit")

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("success must close the breaker")
	}

	// counter restarted: another 4 failures still under threshold 5
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("counter was not reset by success")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("fifth consecutive failure must open")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := newBreaker("etsy", 2, 5*time.Millisecond)

	b.RecordFailure()
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("open breaker must deny before cooldown")
	}

	time.Sleep(6 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker must admit a probe after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("want half-open, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("successful probe must close the breaker")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("r2", 2, 5*time.Millisecond)
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(6 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("probe not admitted")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("failed probe must reopen the breaker")
	}
	if b.Allow() {
		t.Fatalf("reopened breaker must deny until next cooldown")
	}
}

func TestRegistry_PerServiceThresholds(t *testing.T) {
	reg := NewRegistry()

	cases := []struct {
		service   string
		threshold int
	}{
		{"reddit", 5},
		{"google_trends", 5},
		{"openai", 5},
		{"replicate", 3},
		{"etsy", 3},
		{"postgres", 3},
		{"r2", 3},
		{"somewhere_else", 5},
	}
	for _, tc := range cases {
		b := reg.Get(tc.service)
		for i := 0; i < tc.threshold-1; i++ {
			b.RecordFailure()
		}
		if b.State() != StateClosed {
			t.Fatalf("%s: opened before threshold %d", tc.service, tc.threshold)
		}
		b.RecordFailure()
		if b.State() != StateOpen {
			t.Fatalf("%s: not open at threshold %d", tc.service, tc.threshold)
		}
	}
}

func TestRegistry_GetReturnsSameBreaker(t *testing.T) {
	reg := NewRegistry()
	if reg.Get("etsy") != reg.Get("etsy") {
		t.Fatalf("Get must be stable per service")
	}
}

func TestRegistry_ResetAllAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	b := reg.Get("etsy")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	snap := reg.Snapshot()
	if snap["etsy"] != StateOpen {
		t.Fatalf("snapshot must reflect open state, got %v", snap)
	}

	reg.ResetAll()
	if len(reg.Snapshot()) != 0 {
		t.Fatalf("reset must drop old state")
	}
	if reg.Get("etsy").State() != StateClosed {
		t.Fatalf("breaker after reset must be closed")
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Fatalf("unexpected state strings")
	}
	if State(42).String() != "unknown" {
		t.Fatalf("unexpected fallback string")
	}
}
