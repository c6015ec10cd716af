package logger

import (
	"log/slog"
	"os"
)

// EnvTestDebug turns on debug output in tests.
const EnvTestDebug = "TEST_DEBUG"

// NewTestLogger creates a quiet text logger for tests. It logs at WARN unless
// TEST_DEBUG is set or TUNEDECK_LOG_LEVEL names a level, in that order.
func NewTestLogger() *slog.Logger {
	return NewLogger(Config{
		Level:  testLevel(),
		Format: "text",
		Output: os.Stdout,
	})
}

func testLevel() slog.Level {
	if os.Getenv(EnvTestDebug) != "" {
		return slog.LevelDebug
	}
	return ParseLevel(os.Getenv(EnvLogLevel), slog.LevelWarn)
}
