package auth

import "errors"

var (
	// ErrNetwork marks a transport failure. Retrying is the caller's decision.
	ErrNetwork = errors.New("network failure")

	// ErrAuthExpired is reported by remote calls rejected with 401. It triggers exactly one
	// refresh-and-retry in Do.
	ErrAuthExpired = errors.New("access token expired")

	// ErrAuthInvalid means the refresh token was rejected. It is fatal: the guard logs out.
	ErrAuthInvalid = errors.New("refresh token rejected")

	// ErrLoggedOut is returned when no usable credentials are held.
	ErrLoggedOut = errors.New("not logged in")
)
