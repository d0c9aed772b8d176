// Package util provides shared logging helpers for the kline sync binaries.
package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a configuration string onto a slog level. Supported levels:
// "debug", "info", "warn", "error". Defaults to "info" if the level string is
// not recognised.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger using log/slog writing to w. Format
// "json" selects the JSON handler, any other value the text handler.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// RunLogFile opens the size-capped log file for one sync run. Files are named
// kline_<kind>_<date>.log under dir, so runs started on the same day share a
// file. The caller owns the returned writer and must close it.
func RunLogFile(dir, kind string, maxSizeMB, maxBackups int) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	name := filepath.Join(dir, fmt.Sprintf("kline_%s_%s.log",
		kind, time.Now().UTC().Format("2006-01-02")))

	sink := &lumberjack.Logger{
		Filename:   name,
		MaxSize:    maxSizeMB, // MB
		MaxBackups: maxBackups,
	}
	return sink, name, nil
}
