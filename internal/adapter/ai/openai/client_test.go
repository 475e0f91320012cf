package openai

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
	return New(config.Config{
		OpenAIAPIKey:        "test-key",
		OpenAIBaseURL:       srv.URL,
		OpenAIModel:         "gpt-4o-mini",
		ExternalCallTimeout: 5 * time.Second,
	})
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 40},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestBatchScore(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		chatReply(t, w, `{"scores":[
			{"index":0,"velocity":8,"commercial":9,"safety":10,"uniqueness":7,"overall":8.5,"reasoning":"viral"},
			{"index":1,"velocity":15,"commercial":0,"safety":"bad","uniqueness":3,"overall":12.0,"reasoning":"clamped"},
			{"index":9,"velocity":5,"commercial":5,"safety":5,"uniqueness":5,"overall":5.0,"reasoning":"dropped"}
		]}`)
	})

	scores, err := client.BatchScore(context.Background(), []string{"baby hippo", "other"})
	require.NoError(t, err)
	require.Len(t, scores, 2, "out-of-range index must be dropped")

	assert.Equal(t, 8, scores[0].Velocity)
	assert.InDelta(t, 8.5, scores[0].Overall, 1e-9)

	assert.Equal(t, 10, scores[1].Velocity, "clamped to 10")
	assert.Equal(t, 1, scores[1].Commercial, "clamped to 1")
	assert.Equal(t, 1, scores[1].Safety, "unparseable defaults to 1")
	assert.InDelta(t, 10.0, scores[1].Overall, 1e-9)

	in, out := client.ConsumedTokens()
	assert.Equal(t, 120, in)
	assert.Equal(t, 40, out)
}

func TestBatchScoreEmptyInput(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("no call expected for empty input")
	})
	scores, err := client.BatchScore(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestBatchScoreRateLimited(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.BatchScore(context.Background(), []string{"topic"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindRateLimit))
}

func TestBatchScoreAuthFailureNotRetryable(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.BatchScore(context.Background(), []string{"topic"})
	require.Error(t, err)
	assert.False(t, domain.KindOf(err).Retryable())
}

func TestModerate(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/moderations", r.URL.Path)
		resp := map[string]any{
			"results": []map[string]any{{
				"flagged": true,
				"category_scores": map[string]float64{
					"hate":     0.1,
					"violence": 0.82,
					"sexual":   0.05,
				},
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	v, err := client.Moderate(context.Background(), "questionable text")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.InDelta(t, 0.82, v.MaxScore, 1e-9)
	assert.InDelta(t, 0.82, v.Categories["violence"], 1e-9)
}

func TestGeneratePromptsFallsBackOnShortResponse(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, `{"prompts":["one prompt only"]}`)
	})

	prompts, err := client.GeneratePrompts(context.Background(), "baby hippo", 3)
	require.NoError(t, err)
	require.Len(t, prompts, 3)
	assert.Equal(t, "one prompt only", prompts[0])
	assert.Contains(t, prompts[1], "baby hippo")
}

func TestGeneratePromptsFallbackOnAPIError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	prompts, err := client.GeneratePrompts(context.Background(), "baby hippo", 3)
	require.Error(t, err)
	require.Len(t, prompts, 3, "fallback prompts accompany the error")
	for _, p := range prompts {
		assert.Contains(t, p, "baby hippo")
		assert.Contains(t, p, "no text")
	}
}
