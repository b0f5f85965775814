package session

import (
	"context"
	"errors"
	"time"

	"finsync/core/auth"

	"go.uber.org/zap"
)

// ErrInvalidToken is returned when a seed request carries no usable access token.
var ErrInvalidToken = errors.New("invalid token")

// TokenRequest is an externally obtained token pair. ExpiresIn, in seconds, wins over
// ExpiresAt; with neither, the expiry is read from the access token when it is a JWT.
type TokenRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
}

// Status describes the guard without revealing tokens.
type Status struct {
	State       string     `json:"state"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Refreshable bool       `json:"refreshable"`
}

// Service wraps the guard for the admin server and the CLI.
type Service struct {
	guard  *auth.Guard
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a session service on guard.
func NewService(guard *auth.Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{guard: guard, logger: logger, now: time.Now}
}

// Seed installs the token pair.
func (s *Service) Seed(ctx context.Context, req TokenRequest) (Status, error) {
	if req.AccessToken == "" {
		return Status{}, errors.Join(ErrInvalidToken, errors.New("access_token is required"))
	}
	if req.ExpiresIn < 0 {
		return Status{}, errors.Join(ErrInvalidToken, errors.New("expires_in must not be negative"))
	}

	creds := auth.Credentials{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, ExpiresAt: req.ExpiresAt}
	if req.ExpiresIn > 0 {
		creds.ExpiresAt = s.now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}
	if err := s.guard.Seed(ctx, creds); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

// Logout drops the credentials. Later remote calls fail with auth.ErrLoggedOut until the next
// Seed.
func (s *Service) Logout(ctx context.Context) error {
	return s.guard.Logout(ctx)
}

// Status reports the guard state.
func (s *Service) Status() Status {
	creds := s.guard.Credentials()
	st := Status{State: s.guard.State().String(), Refreshable: creds.RefreshToken != ""}
	if !creds.ExpiresAt.IsZero() {
		exp := creds.ExpiresAt.UTC()
		st.ExpiresAt = &exp
	}
	return st
}
