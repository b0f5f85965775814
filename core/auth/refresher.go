package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthRefresher performs the OAuth2 refresh-token grant.
type OAuthRefresher struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewOAuthRefresher creates a refresher for the token endpoint in cfg. A nil client uses
// http.DefaultClient.
func NewOAuthRefresher(cfg Config, client *http.Client) *OAuthRefresher {
	return &OAuthRefresher{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.ScopeList(),
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		client: client,
	}
}

// Refresh implements Refresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	if r.conf.Endpoint.TokenURL == "" {
		return Credentials{}, errors.New("no token URL configured")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	// A token with only a refresh token is invalid, so the source refreshes immediately
	tok, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Credentials{}, classify(err)
	}
	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// classify maps token endpoint failures onto the error kinds callers act on.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrAuthInvalid, err)
		}
		return fmt.Errorf("token endpoint returned %d: %w", status, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
