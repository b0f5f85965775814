package notify

// Config holds configuration for external change notifications.
type Config struct {
	// RedisURL is the redis:// URL of the server changes are published to. Empty disables publishing.
	RedisURL string `mapstructure:"redis_url" default:""`
	// Channel is the pub/sub channel changes are published on.
	Channel string `mapstructure:"channel" default:"finsync:changes"`
}

// Enabled reports whether a Redis publisher should be started.
func (c Config) Enabled() bool {
	return c.RedisURL != ""
}
