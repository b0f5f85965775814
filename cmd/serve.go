package cmd

import (
	"fmt"
	"time"

	"finsync/core/loader"
	"finsync/core/logger"
	"finsync/core/middleware/apikey"
	"finsync/core/middleware/rayid"
	"finsync/feature/aggregation"
	"finsync/feature/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin server",
	Long: `Starts the admin HTTP server with the sync, cache and session routes.

When server.refresh_interval_seconds is set, every collection is also refreshed on that interval.`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	logg := a.log
	zap.ReplaceGlobals(logg)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// RayID first so every later log line carries it
	app.Use(rayid.New())
	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		start := time.Now()
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		l.Info("Request completed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "session": a.guard.State().String()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	app.Use(apikey.New(apikey.Config{ApiKey: a.cfg.Server.ApiKey, Public: []string{"/health", "/metrics"}}))

	mgr := loader.NewManager(logg)
	mgr.Register(aggregation.NewFeature(a.service))
	mgr.Register(session.NewFeature(session.NewService(a.guard, logg.Named("session"))))
	if err := mgr.LoadAll(app); err != nil {
		return err
	}

	changes, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()
	go func() {
		for ch := range changes {
			logg.Debug("Collection changed", zap.String("entity", string(ch.Entity)), zap.String("scope", ch.Scope))
		}
	}()

	if a.cfg.Server.HasScheduledRefresh() {
		interval := time.Duration(a.cfg.Server.RefreshIntervalSeconds) * time.Second
		logg.Info("Scheduled refresh enabled", zap.Duration("interval", interval))
		go a.service.Schedule(ctx, interval)
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("Starting server", zap.String("port", a.cfg.Server.Port))
		errCh <- app.Listen(":" + a.cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logg.Info("Shutting down server...")
	return app.ShutdownWithTimeout(10 * time.Second)
}
