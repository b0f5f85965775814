package auth

import (
	"strings"
	"time"
)

// Config holds configuration for credential refresh against the remote API.
type Config struct {
	// TokenURL is the OAuth2 token endpoint used for the refresh-token grant.
	TokenURL string `mapstructure:"token_url" default:""`
	// ClientID identifies this client to the token endpoint.
	ClientID string `mapstructure:"client_id" default:""`
	// ClientSecret authenticates this client to the token endpoint.
	ClientSecret string `mapstructure:"client_secret" default:""`
	// Scopes is a comma-separated list of scopes to request.
	Scopes string `mapstructure:"scopes" default:""`
	// RefreshMarginSeconds treats the access token as expired this long before it actually is.
	RefreshMarginSeconds int `mapstructure:"refresh_margin_seconds" default:"300"`
	// RefreshTimeoutSeconds bounds a single refresh attempt.
	RefreshTimeoutSeconds int `mapstructure:"refresh_timeout_seconds" default:"30"`
}

// Margin returns the proactive refresh window.
func (c Config) Margin() time.Duration {
	if c.RefreshMarginSeconds < 0 {
		return 0
	}
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

// Timeout returns the bound on a single refresh attempt.
func (c Config) Timeout() time.Duration {
	if c.RefreshTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

// ScopeList splits Scopes on commas, dropping blanks.
func (c Config) ScopeList() []string {
	var out []string
	for _, s := range strings.Split(c.Scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
