package curtain

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	levelVar = &slog.LevelVar{}
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelVar,
	})).With("lib", "curtain")
}

// Logger returns the package logger used by components that were not given
// their own.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the package logger. A nil logger restores the default
// stderr text logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: levelVar,
		})).With("lib", "curtain")
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// SetLogLevel sets the level of the default logger.
func SetLogLevel(level slog.Level) {
	levelVar.Set(level)
}

// SetRawLogLevel parses a level name ("debug", "info", "warn", "error").
// Unknown names fall back to info.
func SetRawLogLevel(rawLevel string) {
	levelVar.Set(ParseLevel(rawLevel))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(rawLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(rawLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
