// Package logging configures zerolog for the sync engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-request flow and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs run milestones and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries and non-fatal store errors and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs fatal run failures only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(levelOrInfo(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var output io.Writer = out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. "warning" is accepted for warn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// levelOrInfo converts LogLevel to zerolog.Level, defaulting to info.
func levelOrInfo(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (url, start_index, duration)
//   - Pages persisted, worker start/stop
//   - Rate limiter waits below one second
//
// Info: Normal operation events
//   - Run start and completion (mode, window, totals)
//   - Progress every tenth of the listing
//   - Checkpoint and index updates, snapshot files
//
// Warn: Warning conditions that don't prevent the run
//   - Retry attempts on 5xx and network errors
//   - Store and checkpoint errors outside strict mode
//   - Long rate limiter waits
//
// Error: Error conditions requiring attention
//   - Fetch failures that end a run (after retries)
//   - Store errors in strict mode
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (client, paginator, syncer, ...)
//   - url: full request URL, enough to reproduce a failure
//   - status: HTTP status code
//   - error_class: client, server, network, parse
//   - start_index, records, total_results, pages: pagination progress
//   - window_start, window_end: incremental range
//   - mode: full or incremental
