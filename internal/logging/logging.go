// Package logging wires the plugin's log output to a file beside the game
// and, optionally, a debug console window.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileName of the log file, created fresh on every game start.
const FileName = "pocket-relay-plugin.log"

// Options select where log output goes.
type Options struct {
	// Dir is the directory for the log file, usually the game directory.
	Dir string
	// Debug lowers the level so debug records are kept.
	Debug bool
	// Console mirrors output into a console window.
	Console bool
}

// Setup builds the plugin logger. The returned close function releases the
// log file and must run on plugin detach.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	path := filepath.Join(opts.Dir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	}

	var consoleErr error
	if opts.Console {
		w, colored, err := openConsole()
		if err != nil {
			consoleErr = err
		} else {
			handlers = append(handlers, newConsoleHandler(w, level, colored))
		}
	}

	logger := slog.New(fanout(handlers...))
	if consoleErr != nil {
		logger.Warn("failed to open debug console", slog.Any("error", consoleErr))
	}
	return logger, file.Close, nil
}

// fanoutHandler forwards records to every handler that wants them.
type fanoutHandler []slog.Handler

func fanout(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
