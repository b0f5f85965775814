package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("refresh_token") {
		case "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream"}`))
		case "rotate":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-rotated",
				"refresh_token": "rt-next",
				"token_type":    "bearer",
				"expires_in":    3600,
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "at-plain",
				"token_type":   "bearer",
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthRefresher(t *testing.T) {
	srv := tokenServer(t)
	r := NewOAuthRefresher(Config{TokenURL: srv.URL + "/token", ClientID: "finsync", ClientSecret: "s3cret"}, srv.Client())

	t.Run("Rotates", func(t *testing.T) {
		creds, err := r.Refresh(context.Background(), "rotate")
		require.NoError(t, err)
		assert.Equal(t, "at-rotated", creds.AccessToken)
		assert.Equal(t, "rt-next", creds.RefreshToken)
		assert.WithinDuration(t, time.Now().Add(time.Hour), creds.ExpiresAt, time.Minute)
	})

	t.Run("NoExpiry", func(t *testing.T) {
		creds, err := r.Refresh(context.Background(), "keep")
		require.NoError(t, err)
		assert.Equal(t, "at-plain", creds.AccessToken)
		assert.True(t, creds.ExpiresAt.IsZero())
	})

	t.Run("InvalidGrant", func(t *testing.T) {
		_, err := r.Refresh(context.Background(), "revoked")
		assert.ErrorIs(t, err, ErrAuthInvalid)
	})

	t.Run("ServerError", func(t *testing.T) {
		_, err := r.Refresh(context.Background(), "broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAuthInvalid)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestOAuthRefresher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewOAuthRefresher(Config{TokenURL: url + "/token", ClientID: "finsync"}, nil)
	_, err := r.Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestOAuthRefresher_NoTokenURL(t *testing.T) {
	_, err := NewOAuthRefresher(Config{}, nil).Refresh(context.Background(), "rt")
	assert.Error(t, err)
}

func TestConfigHelpers(t *testing.T) {
	cfg := Config{Scopes: "accounts, transactions,,", RefreshMarginSeconds: 120}
	assert.Equal(t, []string{"accounts", "transactions"}, cfg.ScopeList())
	assert.Equal(t, 2*time.Minute, cfg.Margin())
	assert.Equal(t, 30*time.Second, cfg.Timeout())
}
