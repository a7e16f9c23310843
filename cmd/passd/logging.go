package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// levelRouter sends records at or above the configured level to one of two
// handlers: errors go to errs, everything else to out.
type levelRouter struct {
	level slog.Leveler
	out   slog.Handler
	errs  slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lr.level.Level()
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	h := lr.out
	if r.Level >= slog.LevelError {
		h = lr.errs
	}
	return h.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{level: lr.level, out: lr.out.WithAttrs(attrs), errs: lr.errs.WithAttrs(attrs)}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{level: lr.level, out: lr.out.WithGroup(name), errs: lr.errs.WithGroup(name)}
}

// setupLogger installs the default logger. Records below level are dropped;
// ERROR goes to stderr and the rest to stdout. If logPath is non-empty every
// record is also appended to that file. The returned func closes the file.
func setupLogger(stdout, stderr io.Writer, logPath string, level slog.Level) (func(), error) {
	opts := &slog.HandlerOptions{Level: level}

	var cleanup func()
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdout = io.MultiWriter(stdout, f)
		stderr = io.MultiWriter(stderr, f)
	}

	slog.SetDefault(slog.New(&levelRouter{
		level: level,
		out:   slog.NewTextHandler(stdout, opts),
		errs:  slog.NewTextHandler(stderr, opts),
	}))
	return cleanup, nil
}
