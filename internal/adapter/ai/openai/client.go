// Package openai implements the LLM surface the pipeline needs: batched
// trend scoring, content moderation, and image-prompt generation. One
// HTTP request per operation; retries and circuit breaking belong to the
// resilience layer above, never here.
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/stickertrendz/pipeline/internal/adapter/ai/tokencount"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

const serviceName = "openai"

// Batch scoring handles at most this many topics per call; the
// orchestrator truncates its candidate list to match.
const MaxBatchTopics = 30

// Client calls the chat-completions and moderations endpoints. It
// accumulates token usage across calls so a run can estimate its cost at
// close.
type Client struct {
	cfg     config.Config
	httpc   *http.Client
	counter *tokencount.Counter

	mu        sync.Mutex
	inTokens  int
	outTokens int
}

func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.ExternalCallTimeout},
		counter: tokencount.NewCounter(),
	}
}

// ConsumedTokens reports input and output tokens accumulated since
// construction. Provider-reported usage wins; calls whose response
// omitted a usage block are counted with tiktoken.
func (c *Client) ConsumedTokens() (in, out int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTokens, c.outTokens
}

func (c *Client) addUsage(in, out int) {
	c.mu.Lock()
	c.inTokens += in
	c.outTokens += out
	c.mu.Unlock()
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// chatJSON issues one chat call in JSON mode and returns the raw content
// string. Failures are tagged with the taxonomy kind the retry layer
// keys on.
func (c *Client) chatJSON(ctx domain.Context, system, user string, temperature float64) (string, error) {
	body, _ := json.Marshal(chatRequest{
		Model: c.cfg.OpenAIModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenAIBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", tagTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp.StatusCode, "chat"); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return "", err
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", domain.Failf(domain.KindProcessingError, serviceName, "decode chat response: %v", err)
	}
	if len(cr.Choices) == 0 {
		return "", domain.Failf(domain.KindAPIError, serviceName, "chat response has no choices")
	}
	content := cr.Choices[0].Message.Content

	in, out := cr.Usage.PromptTokens, cr.Usage.CompletionTokens
	if in == 0 && out == 0 {
		in = c.counter.Count(c.cfg.OpenAIModel, system+user)
		out = c.counter.Count(c.cfg.OpenAIModel, content)
	}
	c.addUsage(in, out)
	return content, nil
}

func tagTransportError(err error) error {
	if strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "Timeout") {
		return domain.Fail(domain.KindTimeout, serviceName, err)
	}
	return domain.Fail(domain.KindAPIError, serviceName, err)
}

func checkStatus(status int, op string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.Failf(domain.KindRateLimit, serviceName, "%s status %d", op, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Failf(domain.KindAuth, serviceName, "%s status %d", op, status)
	case status >= 400 && status < 500:
		return domain.Failf(domain.KindValidation, serviceName, "%s status %d", op, status)
	case status < 200 || status >= 300:
		return domain.Failf(domain.KindAPIError, serviceName, "%s status %d", op, status)
	}
	return nil
}

const scoreSystemPrompt = "You are a trend analyst for a sticker business. " +
	"Score each trend on four dimensions."

const scoreUserPrompt = `Score each trend below for sticker commercial viability.

Trends:
%s

Return a JSON object {"scores": [...]} with one element per trend, each
holding these exact fields:
- index (integer): position of the trend in the input list, starting at 0
- velocity (integer 1-10): how fast is this trend growing
- commercial (integer 1-10): would 18-35 year olds buy a sticker of this
- safety (integer 1-10): is it brand-safe and non-controversial
- uniqueness (integer 1-10): is it a fresh topic or already overdone
- overall (float 1.0-10.0): weighted composite score
- reasoning (string): one sentence explaining your score

Reference calibration:
- Score 9-10: "Moo Deng baby hippo" (viral, unique, extremely stickerable, brand-safe)
- Score 6-7: "Taylor Swift Eras Tour" (commercial but trademark-heavy, overdone)
- Score 3-4: "Federal Reserve rate decision" (not stickerable, no youth appeal)`

type scoreEnvelope struct {
	Scores []struct {
		Index      int    `json:"index"`
		Velocity   any    `json:"velocity"`
		Commercial any    `json:"commercial"`
		Safety     any    `json:"safety"`
		Uniqueness any    `json:"uniqueness"`
		Overall    any    `json:"overall"`
		Reasoning  string `json:"reasoning"`
	} `json:"scores"`
}

// BatchScore scores up to MaxBatchTopics topics in one call. Score
// fields are clamped to their 1-10 range; entries with out-of-range
// indexes are dropped.
func (c *Client) BatchScore(ctx domain.Context, topics []string) ([]domain.TopicScore, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	if len(topics) > MaxBatchTopics {
		topics = topics[:MaxBatchTopics]
	}

	var list strings.Builder
	for i, t := range topics {
		fmt.Fprintf(&list, "%d. %s\n", i, t)
	}

	raw, err := c.chatJSON(ctx, scoreSystemPrompt, fmt.Sprintf(scoreUserPrompt, list.String()), 0.3)
	if err != nil {
		return nil, err
	}

	var env scoreEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, domain.Failf(domain.KindProcessingError, serviceName, "malformed scoring JSON: %v", err)
	}

	out := make([]domain.TopicScore, 0, len(env.Scores))
	for _, s := range env.Scores {
		if s.Index < 0 || s.Index >= len(topics) {
			continue
		}
		out = append(out, domain.TopicScore{
			Index:      s.Index,
			Velocity:   clampInt(s.Velocity),
			Commercial: clampInt(s.Commercial),
			Safety:     clampInt(s.Safety),
			Uniqueness: clampInt(s.Uniqueness),
			Overall:    clampFloat(s.Overall),
			Reasoning:  s.Reasoning,
		})
	}
	return out, nil
}

// clampInt coerces a JSON number to [1,10]. Unparseable values default
// to 1 so a single bad field cannot sink the batch.
func clampInt(v any) int {
	f, ok := asFloat(v)
	if !ok {
		return 1
	}
	n := int(f)
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

func clampFloat(v any) float64 {
	f, ok := asFloat(v)
	if !ok {
		return 1.0
	}
	if f < 1.0 {
		return 1.0
	}
	if f > 10.0 {
		return 10.0
	}
	return f
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(x, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

type moderationRequest struct {
	Input string `json:"input"`
}

// moderationResult mirrors the moderations endpoint response with an
// explicit category field list.
type moderationResult struct {
	Results []struct {
		Flagged        bool `json:"flagged"`
		CategoryScores struct {
			Hate                  float64 `json:"hate"`
			HateThreatening       float64 `json:"hate/threatening"`
			Harassment            float64 `json:"harassment"`
			HarassmentThreatening float64 `json:"harassment/threatening"`
			SelfHarm              float64 `json:"self-harm"`
			Sexual                float64 `json:"sexual"`
			SexualMinors          float64 `json:"sexual/minors"`
			Violence              float64 `json:"violence"`
			ViolenceGraphic       float64 `json:"violence/graphic"`
		} `json:"category_scores"`
	} `json:"results"`
}

// Moderate runs text through the moderations endpoint and reduces the
// response to the max category score the thresholds need.
func (c *Client) Moderate(ctx domain.Context, text string) (domain.ModerationVerdict, error) {
	body, _ := json.Marshal(moderationRequest{Input: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenAIBaseURL+"/moderations", bytes.NewReader(body))
	if err != nil {
		return domain.ModerationVerdict{}, domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.ModerationVerdict{}, tagTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp.StatusCode, "moderation"); err != nil {
		return domain.ModerationVerdict{}, err
	}

	var mr moderationResult
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return domain.ModerationVerdict{}, domain.Failf(domain.KindProcessingError, serviceName, "decode moderation response: %v", err)
	}
	if len(mr.Results) == 0 {
		return domain.ModerationVerdict{}, domain.Failf(domain.KindAPIError, serviceName, "moderation response has no results")
	}

	r := mr.Results[0]
	cs := r.CategoryScores
	categories := map[string]float64{
		"hate":                   cs.Hate,
		"hate/threatening":       cs.HateThreatening,
		"harassment":             cs.Harassment,
		"harassment/threatening": cs.HarassmentThreatening,
		"self-harm":              cs.SelfHarm,
		"sexual":                 cs.Sexual,
		"sexual/minors":          cs.SexualMinors,
		"violence":               cs.Violence,
		"violence/graphic":       cs.ViolenceGraphic,
	}
	maxScore := 0.0
	for _, v := range categories {
		if v > maxScore {
			maxScore = v
		}
	}
	return domain.ModerationVerdict{MaxScore: maxScore, Categories: categories, Flagged: r.Flagged}, nil
}

const promptSystemPrompt = "You are a creative director for a trending sticker business. " +
	"Generate unique image prompts for die-cut vinyl stickers that capture " +
	"the essence of trending topics. Each prompt must be visually distinct " +
	"and suitable for AI image generation."

const promptUserPrompt = `Generate exactly %d image prompts for die-cut vinyl stickers inspired by this trend.

Trend: %s

Requirements for each prompt:
- bold flat vector illustration, thick white die-cut border
- no text, no words, no letters anywhere in the image
- vibrant colors on a plain white background
- family-friendly, no real people, no brand logos

Return a JSON object {"prompts": ["...", "..."]}.`

type promptEnvelope struct {
	Prompts []string `json:"prompts"`
}

// GeneratePrompts asks the model for n sticker image prompts. A short or
// malformed response falls back to deterministic templates so the
// generation workflow never stalls on prompt creativity.
func (c *Client) GeneratePrompts(ctx domain.Context, topic string, n int) ([]string, error) {
	if n <= 0 {
		n = 3
	}
	raw, err := c.chatJSON(ctx, promptSystemPrompt, fmt.Sprintf(promptUserPrompt, n, topic), 0.9)
	if err != nil {
		return FallbackPrompts(topic, n), err
	}

	var env promptEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Prompts) == 0 {
		return FallbackPrompts(topic, n), nil
	}

	prompts := env.Prompts
	if len(prompts) > n {
		prompts = prompts[:n]
	}
	for len(prompts) < n {
		prompts = append(prompts, FallbackPrompts(topic, n)[len(prompts)])
	}
	return prompts, nil
}

// FallbackPrompts returns deterministic templates used when prompt
// generation fails or returns too few entries.
func FallbackPrompts(topic string, n int) []string {
	templates := []string{
		"cute kawaii illustration of %s, die-cut vinyl sticker, bold flat vector art, thick white border, vibrant colors, white background, no text",
		"minimalist cartoon of %s, die-cut sticker design, clean bold outlines, pastel palette, white border, white background, no text",
		"retro pop-art style %s, die-cut vinyl sticker, halftone shading, thick white border, saturated colors, white background, no text",
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(templates[i%len(templates)], topic))
	}
	return out
}
