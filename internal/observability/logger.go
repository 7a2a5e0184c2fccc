// Package observability builds the process logger and the Prometheus
// registry shared by the relay, the consumer and the producer.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a logger at the named level ("debug", "info", "warn",
// "error"; anything else means info). Pretty selects the human console
// format instead of JSON lines.
func NewLogger(level string, pretty bool) zerolog.Logger {
	return newLogger(os.Stderr, level, pretty)
}

func newLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
