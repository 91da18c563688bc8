package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	logLevel   = new(slog.LevelVar)
)

// InitLogger sets up the process-wide logger. Safe to call more than once;
// only the first call installs the handler.
func InitLogger() {
	loggerOnce.Do(func() {
		logger = slog.New(newHandler(os.Stderr))
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process-wide logger, initializing it on first use.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}

// SetLogLevel changes the level of the process-wide logger at runtime.
// Unknown names fall back to info.
func SetLogLevel(name string) {
	logLevel.Set(ParseLevel(name))
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func newHandler(w *os.File) slog.Handler {
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(io.Writer(w), &slog.HandlerOptions{Level: logLevel})
}
