package logger

import (
	"os"
)

// Init initializes the global logger from LOG_LEVEL, LOG_FORMAT and LOG_OUTPUT.
func Init() {
	Configure(Options{
		Level:  envOr("LOG_LEVEL", "INFO"),
		Format: os.Getenv("LOG_FORMAT"),
		Output: os.Getenv("LOG_OUTPUT"),
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// IsDebugEnabled reports whether debug output is on.
func IsDebugEnabled() bool {
	return enabled(DEBUG)
}
