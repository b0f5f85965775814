// Package config provides configuration management for finsync.
//
// It utilizes Viper for loading configuration from environment variables and a
// .env file (via godotenv). Defaults come from `default:"..."` struct tags that are
// registered reflectively, so every key is also reachable through AutomaticEnv.
// An optional finsync.yaml in the same directory sits between the defaults and the
// environment. LoadConfig validates the result.
//
// # Configuration Structure
//
// The Config struct is divided into subsections:
//   - Server: admin HTTP port, API key, scheduled refresh interval
//   - Database: local cache driver (sqlite or mysql) and connection details
//   - Remote: authoritative API base URL, page size and page timeout
//   - Auth: token endpoint, client credentials, refresh margin and timeout
//   - Storage: S3/MinIO bucket for cache snapshots
//   - Notify: optional Redis channel for change notifications
//   - Log: logging level, format and output sinks
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Remote.BaseURL)
package config
