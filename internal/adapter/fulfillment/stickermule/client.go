// Package stickermule submits on-demand print orders to the Sticker
// Mule API and reads back their status and tracking.
package stickermule

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

const serviceName = "sticker_mule"

// Client implements domain.Fulfiller for the primary print provider.
type Client struct {
	cfg   config.Config
	httpc *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.ExternalCallTimeout},
	}
}

func (c *Client) do(ctx domain.Context, method, path string, body any) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, domain.Fail(domain.KindProcessingError, serviceName, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.StickerMuleBaseURL+path, rd)
	if err != nil {
		return nil, domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.StickerMuleAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.Failf(domain.KindRateLimit, serviceName, "%s 429", path)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.Failf(domain.KindAuth, serviceName, "%s status %d", path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.Failf(domain.KindAPIError, serviceName, "%s status %d: %s", path, resp.StatusCode, snippet)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.Failf(domain.KindProcessingError, serviceName, "decode %s: %v", path, err)
	}
	return out, nil
}

// Submit places a print order: image URL, ship-to address, die-cut size
// in inches, and quantity. Returns the provider order id.
func (c *Client) Submit(ctx domain.Context, imageURL string, address map[string]any, size string, qty int) (string, error) {
	inches := 3
	if size == domain.ProductSingleLarge {
		inches = 5
	}

	payload := map[string]any{
		"items": []map[string]any{{
			"image_url": imageURL,
			"width":     inches,
			"height":    inches,
			"quantity":  qty,
		}},
		"shipping": map[string]any{
			"name":     str(address, "name"),
			"address1": str(address, "address"),
			"city":     str(address, "city"),
			"state":    str(address, "state"),
			"zip":      str(address, "zip"),
			"country":  strOr(address, "country", "US"),
		},
	}

	out, err := c.do(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", err
	}
	id := orderID(out)
	if id == "" {
		return "", domain.Failf(domain.KindAPIError, serviceName, "submit returned no order id")
	}
	return id, nil
}

// Status returns the provider's order status string (processing,
// printing, shipped, delivered).
func (c *Client) Status(ctx domain.Context, fulfillmentID string) (string, error) {
	out, err := c.do(ctx, http.MethodGet, "/orders/"+fulfillmentID, nil)
	if err != nil {
		return "", err
	}
	s, _ := out["status"].(string)
	if s == "" {
		s = "unknown"
	}
	return s, nil
}

// Tracking returns the tracking number for a shipped order, or empty
// when not yet available.
func (c *Client) Tracking(ctx domain.Context, fulfillmentID string) (string, error) {
	out, err := c.do(ctx, http.MethodGet, "/orders/"+fulfillmentID, nil)
	if err != nil {
		return "", err
	}
	if t, ok := out["tracking_number"].(string); ok && t != "" {
		return t, nil
	}
	if tr, ok := out["tracking"].(map[string]any); ok {
		if t, ok := tr["number"].(string); ok {
			return t, nil
		}
	}
	return "", nil
}

func orderID(out map[string]any) string {
	for _, key := range []string{"id", "order_id"} {
		switch v := out[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func strOr(m map[string]any, key, fallback string) string {
	if s := str(m, key); s != "" {
		return s
	}
	return fallback
}
