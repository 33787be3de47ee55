package slicemap

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/trie"
)

// Logger wraps slog.Logger with slicemap-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithRepo adds a repo field to the logger.
func (l *Logger) WithRepo(repo string) *Logger {
	return &Logger{
		Logger: l.Logger.With("repo", repo),
	}
}

// WithBuild adds a build field to the logger.
func (l *Logger) WithBuild(build string) *Logger {
	return &Logger{
		Logger: l.Logger.With("build", build),
	}
}

// LogTrieWritten logs one finished trie of a build.
func (l *Logger) LogTrieWritten(ctx context.Context, name string, res trie.Result) {
	l.InfoContext(ctx, "trie written",
		"trie", name,
		"root", res.Root.String(),
		"entries", res.Entries,
		"nodes", res.Nodes,
		"reused_nodes", res.ReusedNodes,
		"bytes", res.BytesWritten,
		"duration", res.Duration,
	)
}

// LogBuild logs a build operation.
func (l *Logger) LogBuild(ctx context.Context, build string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"build", build,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build completed",
			"build", build,
			"duration", duration,
		)
	}
}

// LogResolve logs a resolve operation. Unresolvable references are logged at
// debug level.
func (l *Logger) LogResolve(ctx context.Context, ref href.Reference, err error) {
	switch {
	case err == nil:
		l.DebugContext(ctx, "resolve completed",
			"ref", ref.String(),
		)
	case isNotFound(err):
		l.DebugContext(ctx, "reference not found",
			"ref", ref.String(),
		)
	default:
		l.ErrorContext(ctx, "resolve failed",
			"ref", ref.String(),
			"error", err,
		)
	}
}

// LogFetch logs a blob fetch.
func (l *Logger) LogFetch(ctx context.Context, bytes int, duration time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "fetch failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"bytes", bytes,
			"duration", duration,
		)
	}
}
