package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"finsync/core/auth"
	"finsync/core/database"
	"finsync/core/logger"
	"finsync/core/notify"
	"finsync/core/remote"
	"finsync/core/server"
	"finsync/core/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the admin HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the snapshot object storage (S3, MinIO).
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the local cache database.
	Database database.Config `mapstructure:"database"`
	// Remote holds configuration for the authoritative collection API.
	Remote remote.Config `mapstructure:"remote"`
	// Auth holds configuration for token refresh.
	Auth auth.Config `mapstructure:"auth"`
	// Notify holds configuration for external change notifications.
	Notify notify.Config `mapstructure:"notify"`
}

// LoadConfig loads configuration from an optional finsync.yaml in path, then environment
// variables and the .env file, which win over the file.
func LoadConfig(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	v.SetConfigName("finsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Map environment variables to nested keys (e.g. REMOTE_BASE_URL -> remote.base_url)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings that would only fail later, at first use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or mysql", c.Database.Driver))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if c.Remote.PageSize < 0 {
		errs = append(errs, errors.New("remote.page_size must not be negative"))
	}
	if c.Server.RefreshIntervalSeconds < 0 {
		errs = append(errs, errors.New("server.refresh_interval_seconds must not be negative"))
	}
	if c.Notify.Enabled() && !strings.HasPrefix(c.Notify.RedisURL, "redis://") && !strings.HasPrefix(c.Notify.RedisURL, "rediss://") {
		errs = append(errs, fmt.Errorf("notify.redis_url %q is not a redis:// URL", c.Notify.RedisURL))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
