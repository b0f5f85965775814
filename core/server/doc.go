// Package server holds the admin HTTP server configuration.
//
// The admin server exposes manual refresh triggers, cache inspection, credential
// injection and Prometheus metrics. This package only defines its settings; the
// serve command wires the Fiber app.
//
// # Configuration
//
// The Config struct defines the HTTP port, the API key protecting every route,
// the optional scheduled-refresh interval and the metrics namespace.
package server
