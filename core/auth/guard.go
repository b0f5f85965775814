package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the refresh state of a Guard.
type State int

const (
	// Idle holds usable credentials and no refresh is running.
	Idle State = iota
	// Refreshing has one refresh in flight; callers wait for it.
	Refreshing
	// LoggedOut holds no credentials. Only Seed leaves this state.
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	case LoggedOut:
		return "logged_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type call struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// Guard owns the process credentials and makes sure at most one refresh is in flight.
// Callers that need a refresh while one is running wait for it and share its result.
type Guard struct {
	refresher Refresher
	persister Persister
	margin    time.Duration
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger

	mu       sync.Mutex
	creds    Credentials
	state    State
	gen      uint64
	inflight *call
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMargin sets the proactive refresh window.
func WithMargin(d time.Duration) GuardOption {
	return func(g *Guard) { g.margin = d }
}

// WithRefreshTimeout bounds each refresh attempt.
func WithRefreshTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// WithPersister stores credentials after every change.
func WithPersister(p Persister) GuardOption {
	return func(g *Guard) { g.persister = p }
}

// NewGuard creates a logged-out guard.
func NewGuard(refresher Refresher, opts ...GuardOption) *Guard {
	g := &Guard{
		refresher: refresher,
		margin:    5 * time.Minute,
		timeout:   30 * time.Second,
		now:       time.Now,
		log:       zap.NewNop(),
		state:     LoggedOut,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGuardFromConfig creates a guard using the margin and timeout of cfg.
func NewGuardFromConfig(cfg Config, refresher Refresher, opts ...GuardOption) *Guard {
	base := []GuardOption{WithMargin(cfg.Margin()), WithRefreshTimeout(cfg.Timeout())}
	return NewGuard(refresher, append(base, opts...)...)
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Credentials returns a copy of the held credentials.
func (g *Guard) Credentials() Credentials {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds
}

// Restore loads persisted credentials, if any. It reports whether credentials were found.
func (g *Guard) Restore(ctx context.Context) (bool, error) {
	if g.persister == nil {
		return false, nil
	}
	creds, err := g.persister.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return false, nil
	}
	g.install(*creds)
	return true, nil
}

// Seed installs externally obtained credentials, bypassing the login flow. A refresh in
// flight when Seed is called completes but its result is discarded.
func (g *Guard) Seed(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" {
		return errors.New("seeded credentials have no access token")
	}
	if creds.ExpiresAt.IsZero() {
		creds.ExpiresAt = ExpiryFromJWT(creds.AccessToken)
	}
	g.install(creds)
	g.log.Info("Credentials seeded", zap.Time("expires_at", creds.ExpiresAt))
	return g.save(ctx, creds)
}

func (g *Guard) install(creds Credentials) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = creds
	g.gen++
	if g.inflight == nil {
		g.state = Idle
	}
}

// Logout clears all credentials.
func (g *Guard) Logout(ctx context.Context) error {
	g.mu.Lock()
	g.creds = Credentials{}
	g.gen++
	if g.inflight == nil {
		g.state = LoggedOut
	}
	g.mu.Unlock()

	g.log.Info("Credentials cleared")
	if g.persister != nil {
		if err := g.persister.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear credentials: %w", err)
		}
	}
	return nil
}

// Token returns a usable access token, refreshing first when it is within the margin of expiry.
// Without a refresh token the held token is returned until it expires.
func (g *Guard) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	creds := g.creds
	running := g.inflight != nil
	g.mu.Unlock()

	if !running {
		if creds.AccessToken == "" {
			return "", ErrLoggedOut
		}
		if !creds.Expiring(g.now(), g.margin) {
			return creds.AccessToken, nil
		}
		// Nothing to refresh with; the token still works until it actually expires
		if creds.RefreshToken == "" && g.now().Before(creds.ExpiresAt) {
			return creds.AccessToken, nil
		}
	}

	fresh, err := g.refresh(ctx, creds.AccessToken)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// RefreshIfStale refreshes unless the held token already differs from stale, which means
// another caller refreshed (or seeded) after stale was handed out. It is how a 401 is retried.
func (g *Guard) RefreshIfStale(ctx context.Context, stale string) (string, error) {
	fresh, err := g.refresh(ctx, stale)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Refresh forces a refresh of the held token, joining one already in flight.
func (g *Guard) Refresh(ctx context.Context) (Credentials, error) {
	return g.refresh(ctx, g.Credentials().AccessToken)
}

func (g *Guard) refresh(ctx context.Context, stale string) (Credentials, error) {
	g.mu.Lock()
	if c := g.inflight; c != nil {
		g.mu.Unlock()
		return wait(ctx, c)
	}

	if g.creds.AccessToken != "" && g.creds.AccessToken != stale && !g.creds.Expiring(g.now(), g.margin) {
		creds := g.creds
		g.mu.Unlock()
		return creds, nil
	}
	if g.creds.RefreshToken == "" {
		g.mu.Unlock()
		return Credentials{}, fmt.Errorf("%w: no refresh token", ErrLoggedOut)
	}

	c := &call{done: make(chan struct{})}
	g.inflight = c
	g.state = Refreshing
	gen := g.gen
	refreshToken := g.creds.RefreshToken
	g.mu.Unlock()

	// Detached so the refresh finishes for the other waiters if this caller gives up
	go g.run(context.WithoutCancel(ctx), c, gen, refreshToken)
	return wait(ctx, c)
}

func (g *Guard) run(ctx context.Context, c *call, gen uint64, refreshToken string) {
	start := g.now()
	fresh, err := g.attempt(ctx, refreshToken)
	if err == nil && fresh.AccessToken == "" {
		err = errors.New("refresh response has no access token")
	}

	var persist, wipe bool
	g.mu.Lock()
	switch {
	case err == nil:
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = refreshToken
		}
		if fresh.ExpiresAt.IsZero() {
			fresh.ExpiresAt = ExpiryFromJWT(fresh.AccessToken)
		}
		if g.gen == gen {
			g.creds = fresh
			g.gen++
			persist = true
		} else {
			// Seeded or logged out meanwhile; that wins
			fresh = g.creds
			if fresh.AccessToken == "" {
				err = ErrLoggedOut
			}
		}
	case errors.Is(err, ErrAuthInvalid) && g.gen == gen:
		g.creds = Credentials{}
		g.gen++
		wipe = true
	}
	if g.creds.AccessToken == "" {
		g.state = LoggedOut
	} else {
		g.state = Idle
	}
	g.inflight = nil
	g.mu.Unlock()

	switch {
	case err != nil && wipe:
		g.log.Error("Refresh token rejected, logged out", zap.Error(err))
	case err != nil:
		g.log.Warn("Token refresh failed", zap.Error(err), zap.Duration("elapsed", g.now().Sub(start)))
	default:
		g.log.Debug("Token refreshed", zap.Time("expires_at", fresh.ExpiresAt))
	}

	if persist {
		if perr := g.save(ctx, fresh); perr != nil {
			g.log.Warn("Failed to persist refreshed credentials", zap.Error(perr))
		}
	}
	if wipe && g.persister != nil {
		if perr := g.persister.Clear(ctx); perr != nil {
			g.log.Warn("Failed to clear persisted credentials", zap.Error(perr))
		}
	}

	if err != nil {
		c.err = err
	} else {
		c.creds = fresh
	}
	close(c.done)
}

// attempt runs one refresh under the refresh timeout. A refresher that ignores its context
// is abandoned when the timeout fires so the guard never stays Refreshing.
func (g *Guard) attempt(ctx context.Context, refreshToken string) (Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		creds Credentials
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		creds, err := g.refresher.Refresh(ctx, refreshToken)
		ch <- result{creds, err}
	}()

	select {
	case r := <-ch:
		return r.creds, r.err
	case <-ctx.Done():
		return Credentials{}, fmt.Errorf("token refresh: %w", ctx.Err())
	}
}

func (g *Guard) save(ctx context.Context, creds Credentials) error {
	if g.persister == nil {
		return nil
	}
	if err := g.persister.Save(ctx, creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func wait(ctx context.Context, c *call) (Credentials, error) {
	select {
	case <-c.done:
		return c.creds, c.err
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}
