// Package environment reads the OHSH_* environment variables that override
// file configuration.
package environment

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetLogLevel returns the log level requested through OHSH_LOG_LEVEL,
// defaulting to info when unset or unparseable.
func GetLogLevel() zap.AtomicLevel {
	raw := os.Getenv("OHSH_LOG_LEVEL")
	if raw == "" {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zap.NewAtomicLevelAt(level)
}

// GetBackend returns the backend name requested through OHSH_BACKEND, or
// empty when unset.
func GetBackend() string {
	return os.Getenv("OHSH_BACKEND")
}

// GetNoChangeTimeout returns the soft timeout requested through
// OHSH_NO_CHANGE_TIMEOUT (seconds), or zero when unset or invalid.
func GetNoChangeTimeout() time.Duration {
	raw := os.Getenv("OHSH_NO_CHANGE_TIMEOUT")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// ShouldCleanLogFile reports whether OHSH_CLEAN_LOG requests truncating the
// log file on startup.
func ShouldCleanLogFile() bool {
	return os.Getenv("OHSH_CLEAN_LOG") == "1"
}
