// Package logger provides a structured logging facility based on Zap.
//
// It offers a configured logger instance that supports different environments (development vs production)
// and integrates with the Fiber web framework used by the admin API.
//
// # Context Awareness
//
// Two helpers attach correlation fields:
//   - WithRayID extracts the RayID (request ID) from a Fiber context.
//   - WithRun tags every line of a sync run with its run ID and collection name,
//     so the pages, reconcile and cascade entries of one refresh can be grouped.
//
// # Configuration
//
// The package supports configuration for:
//   - Level: debug, info, warn, error
//   - Encoding: json (production) or console (development)
//   - Output: stderr by default; stdout and file paths are also accepted
//
// # Usage
//
//	log, _ := logger.New(&logger.Config{Level: "info"})
//	log.Info("Sync started")
//
//	l := logger.WithRun(log, runID, "accounts")
//	l.Error("Refresh failed", zap.Error(err))
package logger
