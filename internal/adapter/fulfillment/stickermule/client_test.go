package stickermule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Config{
		StickerMuleAPIKey:   "mule-key",
		StickerMuleBaseURL:  srv.URL,
		ExternalCallTimeout: 5 * time.Second,
	})
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 4411})
	})

	addr := map[string]any{"name": "Jo", "address": "1 Main St", "city": "Springfield", "state": "IL", "zip": "62701"}
	id, err := c.Submit(context.Background(), "https://cdn.example.com/a.png", addr, domain.ProductSingleLarge, 2)
	require.NoError(t, err)
	assert.Equal(t, "4411", id)
	assert.Equal(t, "Bearer mule-key", gotAuth)

	items := gotBody["items"].([]any)
	item := items[0].(map[string]any)
	assert.InDelta(t, 5, item["width"], 1e-9, "large singles print at 5in")
	assert.InDelta(t, 2, item["quantity"], 1e-9)

	shipping := gotBody["shipping"].(map[string]any)
	assert.Equal(t, "US", shipping["country"], "country defaults to US")
}

func TestSubmitRateLimited(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Submit(context.Background(), "u", map[string]any{}, domain.ProductSingleSmall, 1)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindRateLimit))
}

func TestStatusAndTracking(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/4411", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "shipped",
			"tracking": map[string]any{"number": "9400-1111"},
		})
	})

	status, err := c.Status(context.Background(), "4411")
	require.NoError(t, err)
	assert.Equal(t, "shipped", status)

	tracking, err := c.Tracking(context.Background(), "4411")
	require.NoError(t, err)
	assert.Equal(t, "9400-1111", tracking)
}

func TestTrackingMissingIsEmpty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
	})

	tracking, err := c.Tracking(context.Background(), "4411")
	require.NoError(t, err)
	assert.Empty(t, tracking)
}
