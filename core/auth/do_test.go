package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededGuard(t *testing.T, r Refresher) *Guard {
	t.Helper()
	g := newTestGuard(r)
	require.NoError(t, g.Seed(context.Background(), Credentials{AccessToken: "at-0", RefreshToken: "rt-0", ExpiresAt: testNow.Add(time.Hour)}))
	return g
}

func rotating() *fakeRefresher {
	return &fakeRefresher{result: func(n int32, _ string) (Credentials, error) {
		return Credentials{AccessToken: fmt.Sprintf("at-%d", n), ExpiresAt: testNow.Add(time.Hour)}, nil
	}}
}

func TestDo_RetriesOnceAfterExpired(t *testing.T) {
	r := rotating()
	g := seededGuard(t, r)

	var seen []string
	out, err := Do(context.Background(), g, func(_ context.Context, token string) (string, error) {
		seen = append(seen, token)
		if token == "at-0" {
			return "", fmt.Errorf("GET /accounts: %w", ErrAuthExpired)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"at-0", "at-1"}, seen)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestDo_SecondExpiryEscalates(t *testing.T) {
	r := rotating()
	g := seededGuard(t, r)

	calls := 0
	_, err := Do(context.Background(), g, func(context.Context, string) (int, error) {
		calls++
		return 0, ErrAuthExpired
	})
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestDo_OtherErrorsPassThrough(t *testing.T) {
	r := rotating()
	g := seededGuard(t, r)

	boom := fmt.Errorf("%w: connection refused", ErrNetwork)
	calls := 0
	_, err := Do(context.Background(), g, func(context.Context, string) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestDo_RefreshFailureSurfaces(t *testing.T) {
	r := &fakeRefresher{result: func(int32, string) (Credentials, error) {
		return Credentials{}, ErrAuthInvalid
	}}
	g := seededGuard(t, r)

	_, err := Do(context.Background(), g, func(context.Context, string) (int, error) {
		return 0, ErrAuthExpired
	})
	assert.ErrorIs(t, err, ErrAuthInvalid)
	assert.Equal(t, LoggedOut, g.State())
}

// TestDo_ConcurrentUnauthorized has two callers rejected with the same token.
func TestDo_ConcurrentUnauthorized(t *testing.T) {
	r := rotating()
	r.delay = 20 * time.Millisecond
	g := seededGuard(t, r)

	var rejected atomic.Int32
	fetch := func(_ context.Context, token string) (string, error) {
		if token == "at-0" {
			rejected.Add(1)
			return "", ErrAuthExpired
		}
		return token, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Do(context.Background(), g, fetch)
		}(i)
	}
	wg.Wait()

	for i := range results {
		assert.NoError(t, errs[i])
		assert.Equal(t, "at-1", results[i])
	}
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestDo_LoggedOut(t *testing.T) {
	g := newTestGuard(rotating())
	_, err := Do(context.Background(), g, func(context.Context, string) (int, error) {
		return 1, nil
	})
	assert.True(t, errors.Is(err, ErrLoggedOut))
}
