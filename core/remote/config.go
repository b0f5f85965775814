package remote

import "time"

// Config holds configuration for the authoritative collection API.
type Config struct {
	// BaseURL is the root every collection path is resolved against.
	BaseURL string `mapstructure:"base_url" default:""`
	// PageSize is the number of records requested per page.
	PageSize int `mapstructure:"page_size" default:"100"`
	// PageTimeoutSeconds bounds a single page fetch, including one refresh-and-retry.
	PageTimeoutSeconds int `mapstructure:"page_timeout_seconds" default:"30"`
	// TimeoutSeconds is the HTTP client timeout for a single request.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"20"`
}

// PageTimeout returns the per-page bound, 30s when unset.
func (c Config) PageTimeout() time.Duration {
	if c.PageTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

// Timeout returns the HTTP client timeout, 20s when unset.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Size returns the configured page size, 100 when unset.
func (c Config) Size() int {
	if c.PageSize <= 0 {
		return 100
	}
	return c.PageSize
}
