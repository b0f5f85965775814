package middleware_test

import (
	"net/http/httptest"
	"testing"

	"finsync/core/middleware/apikey"
	"finsync/core/middleware/rayid"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(key string) *fiber.App {
	app := fiber.New()
	app.Use(rayid.New())
	app.Use(apikey.New(apikey.Config{ApiKey: key, Public: []string{"/health"}}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/ray", func(c *fiber.Ctx) error { return c.SendString(c.Locals("ray_id").(string)) })
	return app
}

func TestRayID(t *testing.T) {
	app := newApp("")

	resp, err := app.Test(httptest.NewRequest("GET", "/ray", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(rayid.Header))

	req := httptest.NewRequest("GET", "/ray", nil)
	req.Header.Set(rayid.Header, "ray-123")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "ray-123", resp.Header.Get(rayid.Header))
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		path   string
		header string
		status int
	}{
		{"Disabled", "", "/ray", "", fiber.StatusOK},
		{"Missing", "secret", "/ray", "", fiber.StatusUnauthorized},
		{"Wrong", "secret", "/ray", "nope", fiber.StatusUnauthorized},
		{"Valid", "secret", "/ray", "secret", fiber.StatusOK},
		{"PublicPath", "secret", "/health", "", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set(apikey.Header, tt.header)
			}
			resp, err := newApp(tt.key).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
