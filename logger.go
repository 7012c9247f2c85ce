package rfdb

import (
	"log/slog"
	"os"

	"github.com/rfdb/rfdb/model"
)

// Logger wraps slog.Logger with database-specific field helpers, so log
// lines carry consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler
// means info-level text output to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that writes human-readable text to
// stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithShard tags the logger with a shard id.
func (l *Logger) WithShard(id model.ShardID) *Logger {
	return &Logger{Logger: l.Logger.With("shard", int(id))}
}

// WithSnapshot tags the logger with a snapshot version.
func (l *Logger) WithSnapshot(version uint64) *Logger {
	return &Logger{Logger: l.Logger.With("snapshot", version)}
}

// WithFile tags the logger with a source file path.
func (l *Logger) WithFile(path string) *Logger {
	return &Logger{Logger: l.Logger.With("file", path)}
}
