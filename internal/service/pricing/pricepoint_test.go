package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/service/pricing"
)

func TestRoundToPricePoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "zero", in: 0, want: 0.49},
		{name: "negative", in: -1.25, want: 0.49},
		{name: "below first point", in: 0.30, want: 0.49},
		{name: "already forty nine", in: 0.49, want: 0.49},
		{name: "between points", in: 0.50, want: 0.99},
		{name: "already ninety nine", in: 0.99, want: 0.99},
		{name: "whole dollar", in: 1.00, want: 1.49},
		{name: "floor price shape", in: 3.375, want: 3.49},
		{name: "tier price unchanged", in: 4.49, want: 4.49},
		{name: "just past forty nine", in: 4.50, want: 4.99},
		{name: "just past ninety nine", in: 5.999, want: 6.49},
		{name: "large whole dollar", in: 12.00, want: 12.49},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := pricing.RoundToPricePoint(tc.in)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestRoundToPricePoint_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []float64{0, 0.30, 1.00, 2.43, 3.375, 4.49, 4.99, 7.77, 10.01} {
		once := pricing.RoundToPricePoint(in)
		twice := pricing.RoundToPricePoint(once)
		require.InDelta(t, once, twice, 1e-9, "input %v", in)
	}
}

func TestFloorPrice(t *testing.T) {
	t.Parallel()

	// 1.50 + 0.78 + 0.15 = 2.43, / 0.9 / 0.8 = 3.375, to cents = 3.38.
	got := pricing.FloorPrice(1.50, 0.78, 0.15, 0.10, 0.20)
	assert.InDelta(t, 3.38, got, 1e-9)
}

func TestFloorPrice_ZeroShipping(t *testing.T) {
	t.Parallel()

	// Third-party fulfillment bills shipping separately.
	got := pricing.FloorPrice(1.50, 0, 0, 0.10, 0.20)
	assert.InDelta(t, 2.08, got, 1e-9)
}

func TestFloorPrice_InvalidRatesFallBackToDefaults(t *testing.T) {
	t.Parallel()

	got := pricing.FloorPrice(1.50, 0.78, 0.15, 1.0, 0.20)
	assert.InDelta(t, 3.38, got, 1e-9)

	got = pricing.FloorPrice(1.50, 0.78, 0.15, 0.10, 1.5)
	assert.InDelta(t, 3.38, got, 1e-9)
}
