package logger

// Config holds configuration for the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" default:"info"`
	// Format is the output encoding (json or console).
	Format string `mapstructure:"format" default:"json"`
	// Output is a comma-separated list of sinks: stderr, stdout or file paths. CLI commands print
	// their results on stdout, so logs default to stderr.
	Output string `mapstructure:"output" default:"stderr"`
}
