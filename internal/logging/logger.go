// Package logging configures the structured logger shared by every chanhub
// subsystem.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the logger's output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format Format
}

// New builds a zerolog.Logger configured for this process.
//
// JSON output is the default (machine-parseable); Pretty is for local
// development. The logger always carries a "service" field so multi-process
// deployments can be told apart in aggregated log storage.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "chanhub").
		Logger()
}

// WithSession attaches session identity fields to a logger.
func WithSession(l zerolog.Logger, sessionID int64, peerAddr string) zerolog.Logger {
	return l.With().Int64("session_id", sessionID).Str("peer_addr", peerAddr).Logger()
}

// WithChannel attaches the channel name to a logger.
func WithChannel(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("channel", name).Logger()
}

// RecoverPanic is deferred directly (recover only has effect when called
// straight from a deferred function) in every long-lived goroutine: the
// accept loop, the session read loop, the scheduler's timer task, and the
// resource guard's sampling loop. It logs a recovered panic with its stack
// trace and lets the goroutine unwind normally instead of crashing the
// process.
func RecoverPanic(l zerolog.Logger, goroutine string, fields map[string]any) {
	if r := recover(); r != nil {
		event := l.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
