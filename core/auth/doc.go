// Package auth owns the credentials used against the remote API.
//
// Guard is a single-flight refresh coordinator with three states: Idle, Refreshing and
// LoggedOut. Concurrent callers that find the access token expired share one refresh call.
// A rejected refresh token logs the guard out and fails every waiter with ErrAuthInvalid.
// A response without a refresh token keeps the previous one.
//
// Do wraps a remote call: a 401 surfaces as ErrAuthExpired, which triggers exactly one
// refresh and one retry.
//
//	guard := auth.NewGuardFromConfig(cfg.Auth, auth.NewOAuthRefresher(cfg.Auth, nil))
//	_ = guard.Seed(ctx, auth.Credentials{AccessToken: at, RefreshToken: rt})
//	page, err := auth.Do(ctx, guard, func(ctx context.Context, token string) (*remote.Page, error) {
//	    return client.FetchPage(ctx, token, "accounts", params)
//	})
package auth
