// Package logging builds the process-wide slog logger from telemetry config.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stdout and, when cfg.LogFile is set, to a
// size-rotated file. The returned closer releases the file.
func New(cfg config.TelemetryConfig, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	out := stdout
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(stdout, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "", "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return slog.New(handler), closer, nil
}

// ParseLevel accepts debug, info, warn or error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
