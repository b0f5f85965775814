package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"finsync/core/auth"

	"go.uber.org/zap"
)

// Fetcher fetches one page of a collection.
type Fetcher interface {
	FetchPage(ctx context.Context, path string, params url.Values) (*Page, error)
}

// Getter fetches a single record.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values, dest any) error
}

// API is the full remote surface used by the sync features.
type API interface {
	Fetcher
	Getter
}

// Page is the decoded response envelope. Data is left raw so callers decode into their own type.
type Page struct {
	Data   json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

// After returns the continuation token, empty on the last page.
func (p *Page) After() string {
	return p.Paging.Cursors.After
}

// Items decodes the page data as a list of V. A missing or null data field is an empty page.
func Items[V any](p *Page) ([]V, error) {
	if p == nil || len(p.Data) == 0 || string(p.Data) == "null" {
		return nil, nil
	}
	var items []V
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode page data: %w", err)
	}
	return items, nil
}

// StatusError is a non-2xx response that is neither an auth failure nor transient.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

var _ API = (*Client)(nil)

// Client is the bearer-authenticated API client.
type Client struct {
	base   *url.URL
	http   *http.Client
	guard  *auth.Guard
	logger *zap.Logger
}

// NewClient creates a client for cfg.BaseURL. A nil httpClient gets cfg.Timeout().
func NewClient(cfg Config, guard *auth.Guard, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base URL is not configured")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if guard == nil {
		return nil, errors.New("remote client needs a token guard")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: httpClient, guard: guard, logger: logger}, nil
}

// FetchPage implements Fetcher.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	return auth.Do(ctx, c.guard, func(ctx context.Context, token string) (*Page, error) {
		var page Page
		if err := c.get(ctx, token, path, params, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

// Get decodes the data field of a single-record endpoint into dest.
func (c *Client) Get(ctx context.Context, path string, params url.Values, dest any) error {
	_, err := auth.Do(ctx, c.guard, func(ctx context.Context, token string) (struct{}, error) {
		var page Page
		if err := c.get(ctx, token, path, params, &page); err != nil {
			return struct{}{}, err
		}
		if err := json.Unmarshal(page.Data, dest); err != nil {
			return struct{}{}, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values, out *Page) error {
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %v", auth.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Remote request", zap.String("path", path), zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("GET %s: %w", path, auth.ErrAuthExpired)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: GET %s: status %d", auth.ErrNetwork, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
