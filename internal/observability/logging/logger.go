package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewJSONLogger(service, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

// New logs to stdout and, when logFile is set, appends the same lines to that file.
// The returned close function releases the file.
func New(service, level, logFile string) (*slog.Logger, func() error, error) {
	if strings.TrimSpace(logFile) == "" {
		return NewJSONLogger(service, level, os.Stdout), func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewJSONLogger(service, level, io.MultiWriter(os.Stdout, f)), f.Close, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
