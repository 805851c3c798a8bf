// Package logging provides the structured zerolog setup shared by every
// binary and component in the pipeline, following the pattern in the
// teacher's internal/shared/monitoring/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the subset of zerolog levels the pipeline configures
// through environment/config, rather than exposing zerolog directly at
// every call site.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the console output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls logger construction.
type Config struct {
	Level   Level
	Format  Format
	Service string
}

// New builds a zerolog.Logger configured for structured, Loki-friendly
// output in production and a human-readable console writer locally.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout

	var lvl zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		lvl = zerolog.DebugLevel
	case LevelWarn:
		lvl = zerolog.WarnLevel
	case LevelError:
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.Format == FormatPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "mdingest"
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// RecoverPanic recovers a panic when deferred at the top of a long-running
// goroutine; WsConsumer's run loop installs it. It logs the panic with a stack trace and lets
// the goroutine's caller decide how to restart, rather than crashing the
// process.
func RecoverPanic(logger zerolog.Logger, goroutine string, fields map[string]any) {
	if r := recover(); r != nil {
		ev := logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			ev = ev.Interface(k, v)
		}
		ev.Msg("goroutine panic recovered")
	}
}

// LogError attaches an error plus arbitrary context fields to an Error
// level event.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	ev := logger.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
