// Package logger provides the structured slog logger used across dispatchd.
// All logs are written in JSON format.
//
// Log files are organized as:
//
//	<logDir>/system.log              application-level events, rotated by size
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for system.log.
const (
	maxLogSizeMB  = 50
	maxLogBackups = 5
	maxLogAgeDays = 28
)

// Options tunes NewSystemLogger.
type Options struct {
	// Stderr mirrors log records to standard error.
	Stderr bool
	// Extra receives every record in addition to the file handler, e.g. an
	// OpenTelemetry log bridge.
	Extra slog.Handler
}

// SystemLogPath returns the path of the system log inside logDir.
func SystemLogPath(logDir string) string {
	return filepath.Join(logDir, "system.log")
}

// NewSystemLogger creates a JSON slog.Logger that writes to <logDir>/system.log
// through a rotating writer. The directory is created if it does not exist.
// The returned closer flushes and closes the log file.
func NewSystemLogger(logDir string, level slog.Level, opts Options) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}

	rotator := &lumberjack.Logger{
		Filename:   SystemLogPath(logDir),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotator
	if opts.Stderr {
		w = io.MultiWriter(rotator, os.Stderr)
	}

	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if opts.Extra != nil {
		handler = fanout{handler, opts.Extra}
	}
	return slog.New(handler), rotator, nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler signature
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
