package auth

import (
	"context"
	"errors"
)

// Do runs call with a usable access token. When call fails with ErrAuthExpired the token is
// refreshed once (joining any refresh already in flight) and call is retried once. A second
// ErrAuthExpired is returned to the caller.
func Do[T any](ctx context.Context, g *Guard, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := g.Token(ctx)
	if err != nil {
		return zero, err
	}

	out, err := call(ctx, token)
	if !errors.Is(err, ErrAuthExpired) {
		return out, err
	}

	token, err = g.RefreshIfStale(ctx, token)
	if err != nil {
		return zero, err
	}
	return call(ctx, token)
}
