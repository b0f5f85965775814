package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is an access/refresh token pair.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expiring reports whether the access token is within margin of its expiry at now.
// A zero expiry is unknown and never expiring; the remote's 401 is the backstop.
func (c Credentials) Expiring(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// Refresher exchanges a refresh token for new credentials. A response without a refresh
// token leaves RefreshToken empty; the guard keeps the previous one.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	return f(ctx, refreshToken)
}

// Persister stores credentials across restarts. Load returns nil when nothing is stored.
type Persister interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// ExpiryFromJWT reads the exp claim of a JWT access token without verifying it.
// It returns the zero time for opaque tokens or tokens without exp.
func ExpiryFromJWT(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
