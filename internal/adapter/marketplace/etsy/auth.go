// Package etsy talks to the Etsy Open API v3: listing management,
// receipts, and the OAuth token lifecycle behind them.
package etsy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Access tokens within this buffer of expiry are refreshed before use.
const refreshBuffer = 5 * time.Minute

const tokenEndpoint = "https://api.etsy.com/v3/public/oauth/token"

// TokenManager hands out a valid access token, refreshing through the
// token store's conditional swap so concurrent workflow processes never
// clobber each other's refresh.
type TokenManager struct {
	store    domain.TokenRepository
	httpc    *http.Client
	clientID string
	endpoint string
}

func NewTokenManager(store domain.TokenRepository, clientID string, timeout time.Duration) *TokenManager {
	return &TokenManager{
		store:    store,
		httpc:    &http.Client{Timeout: timeout},
		clientID: clientID,
		endpoint: tokenEndpoint,
	}
}

// AccessToken returns a token valid for at least the refresh buffer.
// invalid_grant from the refresh endpoint is fatal: manual re-auth is
// required and the workflow must halt.
func (m *TokenManager) AccessToken(ctx domain.Context, shopID string) (string, error) {
	row, err := m.store.Get(ctx, shopID)
	if err != nil {
		return "", domain.Fail(domain.KindStorageError, serviceName, err)
	}
	if time.Until(row.ExpiresAt) > refreshBuffer {
		return row.AccessToken, nil
	}

	slog.Info("etsy token expiring soon, refreshing", slog.String("shop_id", shopID))
	return m.refresh(ctx, row)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

func (m *TokenManager) refresh(ctx domain.Context, row domain.OAuthTokens) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.clientID},
		"refresh_token": {row.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.Fail(domain.KindProcessingError, serviceName, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", domain.Fail(domain.KindAPIError, serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", domain.Failf(domain.KindProcessingError, serviceName, "decode token response: %v", err)
	}

	if tr.Error == "invalid_grant" {
		return "", domain.Failf(domain.KindInvalidGrant, serviceName,
			"refresh token rejected for shop %s; manual re-authorization required", row.ShopID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.Failf(domain.KindAuth, serviceName, "token refresh status %d", resp.StatusCode)
	}

	next := domain.OAuthTokens{
		ShopID:       row.ShopID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	swapped, err := m.store.Swap(ctx, row.RefreshToken, next)
	if err != nil {
		return "", domain.Fail(domain.KindStorageError, serviceName, err)
	}
	if !swapped {
		// Another process refreshed first; adopt its tokens.
		current, err := m.store.Get(ctx, row.ShopID)
		if err != nil {
			return "", domain.Fail(domain.KindStorageError, serviceName, err)
		}
		slog.Info("concurrent token refresh detected, adopting stored tokens",
			slog.String("shop_id", row.ShopID))
		return current.AccessToken, nil
	}
	return next.AccessToken, nil
}

// SetEndpoint overrides the OAuth endpoint; tests point it at a local
// server.
func (m *TokenManager) SetEndpoint(u string) { m.endpoint = u }
