// Package replicate generates sticker artwork through the Replicate
// predictions API: create a prediction, poll until it settles, then
// download the output image bytes.
package replicate

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

const serviceName = "replicate"

const (
	pollInterval = 2 * time.Second
	maxImageSize = 25 << 20 // refuse absurd downloads
)

// Client implements domain.ImageClient.
type Client struct {
	cfg   config.Config
	httpc *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		// Image generation regularly outlives the standard call timeout;
		// polling is bounded by the caller's context instead.
		httpc: &http.Client{Timeout: 90 * time.Second},
	}
}

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Generate runs one prediction and returns the raw image bytes.
func (c *Client) Generate(ctx domain.Context, prompt string, size int) ([]byte, error) {
	if size <= 0 {
		size = c.cfg.ReplicateImageSize
	}
	p, err := c.createPrediction(ctx, prompt, size)
	if err != nil {
		return nil, err
	}

	p, err = c.waitForPrediction(ctx, p)
	if err != nil {
		return nil, err
	}

	url, err := firstOutputURL(p.Output)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, url)
}

func (c *Client) createPrediction(ctx domain.Context, prompt string, size int) (prediction, error) {
	endpoint := c.cfg.ReplicateBaseURL + "/predictions"
	if c.cfg.ReplicateModelVersion == "" {
		// Versionless models are created through the models endpoint.
		endpoint = fmt.Sprintf("%s/models/%s/predictions", c.cfg.ReplicateBaseURL, c.cfg.ReplicateModelID)
	}

	body, _ := json.Marshal(predictionRequest{
		Version: c.cfg.ReplicateModelVersion,
		Input: map[string]any{
			"prompt":        prompt,
			"width":         size,
			"height":        size,
			"num_outputs":   1,
			"output_format": "png",
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return prediction{}, domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.ReplicateAPIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return prediction{}, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return prediction{}, domain.Failf(domain.KindRateLimit, serviceName, "create prediction status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return prediction{}, domain.Failf(domain.KindAuth, serviceName, "create prediction status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return prediction{}, domain.Failf(domain.KindAPIError, serviceName, "create prediction status %d", resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return prediction{}, domain.Failf(domain.KindProcessingError, serviceName, "decode prediction: %v", err)
	}
	return p, nil
}

// waitForPrediction polls until the prediction settles or the context
// expires.
func (c *Client) waitForPrediction(ctx domain.Context, p prediction) (prediction, error) {
	for {
		switch p.Status {
		case "succeeded":
			return p, nil
		case "failed", "canceled":
			return prediction{}, domain.Failf(domain.KindAPIError, serviceName, "prediction %s: %s", p.Status, p.Error)
		}

		select {
		case <-ctx.Done():
			return prediction{}, domain.Fail(domain.KindTimeout, serviceName, ctx.Err())
		case <-time.After(pollInterval):
		}

		var err error
		p, err = c.getPrediction(ctx, p.ID)
		if err != nil {
			return prediction{}, err
		}
	}
}

func (c *Client) getPrediction(ctx domain.Context, id string) (prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ReplicateBaseURL+"/predictions/"+id, nil)
	if err != nil {
		return prediction{}, domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.ReplicateAPIToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return prediction{}, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return prediction{}, domain.Failf(domain.KindAPIError, serviceName, "get prediction status %d", resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return prediction{}, domain.Failf(domain.KindProcessingError, serviceName, "decode prediction: %v", err)
	}
	return p, nil
}

// firstOutputURL accepts both output shapes the API produces: a list of
// URLs or a single URL string.
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", domain.Failf(domain.KindAPIError, serviceName, "prediction has no output")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	return "", domain.Failf(domain.KindAPIError, serviceName, "unexpected prediction output shape")
}

func (c *Client) download(ctx domain.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Failf(domain.KindAPIError, serviceName, "download image status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	if len(data) == 0 {
		return nil, domain.Failf(domain.KindAPIError, serviceName, "empty image body")
	}
	return data, nil
}
