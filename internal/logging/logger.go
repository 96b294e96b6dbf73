// Package logging builds the zerolog logger shared by the server.
//
// JSON output is the default. The console format is meant for local
// development:
//
//	log := logging.New(os.Stderr, "debug", "console")
//	log.Info().Str("port", "3000").Msg("Server running")
package logging

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Nop discards everything. Handy in tests.
var Nop = zerolog.Nop()

// New creates a logger writing to w at the given level. Unknown levels fall
// back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "signup-server").
		Logger()
}

// ParseLevel converts a textual level to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// WithLogger stores a logger in ctx.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
