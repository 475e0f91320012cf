package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// TokenRepo stores the etsy_tokens row. The Swap guard is the only
// multi-process write contention point in the relational store.
type TokenRepo struct{ Pool PgxPool }

func NewTokenRepo(p PgxPool) *TokenRepo { return &TokenRepo{Pool: p} }

// Get loads the token row for a shop.
func (r *TokenRepo) Get(ctx domain.Context, shopID string) (domain.OAuthTokens, error) {
	tracer := otel.Tracer("repo.tokens")
	ctx, span := tracer.Start(ctx, "tokens.Get")
	defer span.End()
	q := `SELECT shop_id, access_token, refresh_token, expires_at FROM etsy_tokens WHERE shop_id=$1`
	var t domain.OAuthTokens
	err := r.Pool.QueryRow(ctx, q, shopID).Scan(&t.ShopID, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthTokens{}, fmt.Errorf("op=tokens.get: %w", domain.ErrNotFound)
		}
		return domain.OAuthTokens{}, fmt.Errorf("op=tokens.get: %w", err)
	}
	return t, nil
}

// Swap writes refreshed tokens only if the stored refresh token still
// matches currentRefreshToken. Zero rows affected means a concurrent
// process refreshed first; the caller re-reads and adopts its tokens.
func (r *TokenRepo) Swap(ctx domain.Context, currentRefreshToken string, next domain.OAuthTokens) (bool, error) {
	tracer := otel.Tracer("repo.tokens")
	ctx, span := tracer.Start(ctx, "tokens.Swap")
	defer span.End()
	q := `UPDATE etsy_tokens SET access_token=$2, refresh_token=$3, expires_at=$4, updated_at=$5
		WHERE shop_id=$1 AND refresh_token=$6`
	tag, err := r.Pool.Exec(ctx, q, next.ShopID, next.AccessToken, next.RefreshToken,
		next.ExpiresAt, time.Now().UTC(), currentRefreshToken)
	if err != nil {
		return false, fmt.Errorf("op=tokens.swap: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
