package logger

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new zap logger based on the configuration.
func New(cfg *Config) (*zap.Logger, error) {
	return build(cfg).Build()
}

// build maps cfg onto a zap preset: development for debug, production otherwise.
func build(cfg *Config) zap.Config {
	config := zap.NewProductionConfig()
	if cfg.Level == "debug" {
		config = zap.NewDevelopmentConfig()
	}

	// Unparsable levels keep the preset's
	if lvl, err := zapcore.ParseLevel(cfg.Level); cfg.Level != "" && err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.Encoding = "json"
	if cfg.Format == "console" {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	}

	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.MessageKey = "message"

	if outputs := splitOutputs(cfg.Output); len(outputs) > 0 {
		config.OutputPaths = outputs
	}
	return config
}

func splitOutputs(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WithRayID returns a logger with the ray_id field set from the Fiber context.
func WithRayID(l *zap.Logger, c *fiber.Ctx) *zap.Logger {
	if rid, ok := c.Locals("ray_id").(string); ok && rid != "" {
		return l.With(zap.String("ray_id", rid))
	}
	return l
}

// WithRun returns a logger tagged with a sync run identifier and the collection being refreshed.
func WithRun(l *zap.Logger, runID, entity string) *zap.Logger {
	return l.With(zap.String("run_id", runID), zap.String("entity", entity))
}
