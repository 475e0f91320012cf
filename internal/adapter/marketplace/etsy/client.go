package etsy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

const serviceName = "etsy"

// CallMeter is the shared API budget surface the client reports to:
// every request is counted, and each call class is admitted by its
// priority before the request leaves the process.
type CallMeter interface {
	Increment(ctx domain.Context, n int) (int64, error)
	CanProceed(ctx domain.Context, p domain.Priority) (bool, error)
}

// Client implements domain.Marketplace on the Etsy Open API v3.
type Client struct {
	cfg    config.Config
	httpc  *http.Client
	tokens *TokenManager
	meter  CallMeter
}

func NewClient(cfg config.Config, tokens *TokenManager, meter CallMeter) *Client {
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.ExternalCallTimeout},
		tokens: tokens,
		meter:  meter,
	}
}

// admit checks the priority gate and counts the upcoming call. A denied
// admission surfaces as rate_limit; meter increment failures surface as
// rate_limiter_error per the governor contract.
func (c *Client) admit(ctx domain.Context, p domain.Priority) error {
	if c.meter == nil {
		return nil
	}
	ok, err := c.meter.CanProceed(ctx, p)
	if err != nil {
		return domain.Fail(domain.KindRateLimiterError, serviceName, err)
	}
	if !ok {
		return domain.Failf(domain.KindRateLimit, serviceName, "daily API budget denies priority %d", p)
	}
	if _, err := c.meter.Increment(ctx, 1); err != nil {
		return domain.Fail(domain.KindRateLimiterError, serviceName, err)
	}
	return nil
}

func (c *Client) do(ctx domain.Context, req *http.Request) (*http.Response, error) {
	token, err := c.tokens.AccessToken(ctx, c.cfg.EtsyShopID)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-api-key", c.cfg.EtsyAPIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.Fail(domain.KindAPIError, serviceName, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		_ = resp.Body.Close()
		return nil, domain.Failf(domain.KindRateLimit, serviceName, "etsy 429: daily quota exhausted")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		return nil, domain.Failf(domain.KindAuth, serviceName, "%s status %d", req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, domain.Failf(domain.KindAPIError, serviceName, "%s status %d: %s", req.URL.Path, resp.StatusCode, snippet)
	}
	return resp, nil
}

func (c *Client) shopURL(parts ...string) string {
	u := fmt.Sprintf("%s/shops/%s", c.cfg.EtsyBaseURL, c.cfg.EtsyShopID)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

type listingResponse struct {
	ListingID int64 `json:"listing_id"`
}

// CreateListing creates a draft listing and returns the new listing id.
// Image upload and activation are separate calls so a partial failure
// leaves an inspectable draft rather than a phantom listing.
func (c *Client) CreateListing(ctx domain.Context, s domain.Sticker, title, description string, tags []string, price float64) (string, error) {
	if err := c.admit(ctx, domain.P1NewListings); err != nil {
		return "", err
	}

	payload := map[string]any{
		"quantity":          999,
		"title":             title,
		"description":       description,
		"price":             price,
		"who_made":          "i_did",
		"when_made":         "2020_2025",
		"taxonomy_id":       1,
		"tags":              tags,
		"state":             "draft",
		"type":              "physical",
		"should_auto_renew": true,
		"is_personalizable": false,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.shopURL("listings"), bytes.NewReader(body))
	if err != nil {
		return "", domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var lr listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", domain.Failf(domain.KindProcessingError, serviceName, "decode create listing: %v", err)
	}
	if lr.ListingID == 0 {
		return "", domain.Failf(domain.KindAPIError, serviceName, "create listing returned no id")
	}
	return strconv.FormatInt(lr.ListingID, 10), nil
}

// UploadListingImage attaches image bytes to a draft listing.
func (c *Client) UploadListingImage(ctx domain.Context, listingID string, image []byte) error {
	if err := c.admit(ctx, domain.P1NewListings); err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "sticker.png")
	if err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	if _, err := part.Write(image); err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	if err := mw.Close(); err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.shopURL("listings", listingID, "images"), &buf)
	if err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// ActivateListing flips a draft listing live.
func (c *Client) ActivateListing(ctx domain.Context, listingID string) error {
	if err := c.admit(ctx, domain.P1NewListings); err != nil {
		return err
	}
	return c.patchState(ctx, listingID, "active")
}

// UpdatePrice pushes a new listing price (price-update call class).
func (c *Client) UpdatePrice(ctx domain.Context, listingID string, price float64) error {
	if err := c.admit(ctx, domain.P2PriceUpdates); err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]any{"price": price})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.shopURL("listings", listingID), bytes.NewReader(body))
	if err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// DeactivateListing retires a listing from sale.
func (c *Client) DeactivateListing(ctx domain.Context, listingID string) error {
	if err := c.admit(ctx, domain.P2PriceUpdates); err != nil {
		return err
	}
	return c.patchState(ctx, listingID, "inactive")
}

func (c *Client) patchState(ctx domain.Context, listingID, state string) error {
	body, _ := json.Marshal(map[string]any{"state": state})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.shopURL("listings", listingID), bytes.NewReader(body))
	if err != nil {
		return domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

type receiptTransaction struct {
	ListingID int64 `json:"listing_id"`
	Quantity  int   `json:"quantity"`
	Price     struct {
		Amount  int64 `json:"amount"`
		Divisor int64 `json:"divisor"`
	} `json:"price"`
}

type receiptRecord struct {
	ReceiptID    int64                `json:"receipt_id"`
	Status       string               `json:"status"`
	CreatedTS    int64                `json:"created_timestamp"`
	BuyerEmail   string               `json:"buyer_email"`
	Name         string               `json:"name"`
	FirstLine    string               `json:"first_line"`
	SecondLine   string               `json:"second_line"`
	City         string               `json:"city"`
	State        string               `json:"state"`
	Zip          string               `json:"zip"`
	Country      string               `json:"country_iso"`
	Transactions []receiptTransaction `json:"transactions"`
}

type receiptsResponse struct {
	Results []receiptRecord `json:"results"`
}

// ListReceipts returns receipts created at or after since (order-read
// call class, the highest admission priority).
func (c *Client) ListReceipts(ctx domain.Context, since time.Time) ([]domain.Receipt, error) {
	if err := c.admit(ctx, domain.P0OrderReads); err != nil {
		return nil, err
	}

	q := url.Values{
		"min_created": {strconv.FormatInt(since.UTC().Unix(), 10)},
		"limit":       {"100"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.shopURL("receipts")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.Fail(domain.KindProcessingError, serviceName, err)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var rr receiptsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, domain.Failf(domain.KindProcessingError, serviceName, "decode receipts: %v", err)
	}

	out := make([]domain.Receipt, 0, len(rr.Results))
	for _, r := range rr.Results {
		rec := domain.Receipt{
			ReceiptID: strconv.FormatInt(r.ReceiptID, 10),
			Status:    mapReceiptStatus(r.Status),
			CreatedAt: time.Unix(r.CreatedTS, 0).UTC(),
			CustomerData: map[string]any{
				"customer_name":    r.Name,
				"customer_email":   r.BuyerEmail,
				"customer_address": formatAddress(r.FirstLine, r.SecondLine, r.City, r.State, r.Zip, r.Country),
			},
		}
		if len(r.Transactions) > 0 {
			t := r.Transactions[0]
			rec.ListingID = strconv.FormatInt(t.ListingID, 10)
			rec.Quantity = t.Quantity
			if t.Price.Divisor > 0 {
				rec.UnitPrice = float64(t.Price.Amount) / float64(t.Price.Divisor)
			}
			rec.TotalAmount = rec.UnitPrice * float64(rec.Quantity)
		}
		out = append(out, rec)
	}
	return out, nil
}

func mapReceiptStatus(s string) domain.OrderStatus {
	switch s {
	case "Completed", "completed", "Shipped", "shipped":
		return domain.OrderShipped
	default:
		return domain.OrderPaid
	}
}

func formatAddress(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}
