// ABOUTME: Structured logging for the storage engine
// ABOUTME: Wraps zerolog with per-subsystem scoped child loggers

package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with tdb-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a new structured logger. Engine-scoped, never global: each
// *Engine owns exactly one Logger, passed down to the subsystems it
// constructs via Scoped.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "tdb").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Scoped returns a logger tagged with the given subsystem, e.g. "wal",
// "btree", "txn", "lock", "cache", "query".
func (l *Logger) Scoped(subsystem string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", subsystem).Logger()}
}

// LogOperation logs a completed engine operation with structured fields.
func (l *Logger) LogOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("operation completed")
}

// LogOpen logs engine startup.
func (l *Logger) LogOpen(path string, pageSize, cachedPages int) {
	l.zlog.Info().
		Str("event", "open").
		Str("database", path).
		Int("page_size", pageSize).
		Int("cache_size", cachedPages).
		Msg("database opened")
}

// LogClose logs engine shutdown.
func (l *Logger) LogClose() {
	l.zlog.Info().Str("event", "close").Msg("database closed")
}
