package server

// Config holds configuration for the admin HTTP server.
type Config struct {
	// Port is the port where the admin server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the admin API. Empty disables the check.
	ApiKey string `mapstructure:"api_key" default:""`
	// RefreshIntervalSeconds schedules a full refresh of every collection; 0 disables it.
	RefreshIntervalSeconds int `mapstructure:"refresh_interval_seconds" default:"0"`
	// MetricsNamespace prefixes every exported Prometheus metric.
	MetricsNamespace string `mapstructure:"metrics_namespace" default:"finsync"`
}

// HasScheduledRefresh reports whether the server should refresh collections periodically.
func (c Config) HasScheduledRefresh() bool {
	return c.RefreshIntervalSeconds > 0
}
