package domain

import "time"

// OAuthTokens is the marketplace token row for one shop.
type OAuthTokens struct {
	ShopID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenRepository stores marketplace OAuth tokens. Swap performs a
// conditional update guarded by the caller's current refresh token:
// false with nil error means another process refreshed first and the
// caller should re-read and adopt the stored tokens.
type TokenRepository interface {
	Get(ctx Context, shopID string) (OAuthTokens, error)
	Swap(ctx Context, currentRefreshToken string, next OAuthTokens) (bool, error)
}
