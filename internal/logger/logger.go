// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

var stacksOnce sync.Once

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

// configureStacks makes zerolog render github.com/pkg/errors stack traces.
// Call sites use .Stack() on error events to include them.
func configureStacks() {
	stacksOnce.Do(func() {
		// Ensure a stack is present even for std errors when .Stack() is used.
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			if _, ok := err.(stackTracer); !ok {
				err = pkgerrors.WithStack(err)
			}
			return zpkgerrors.MarshalStack(err)
		}
	})
}

// New returns a zerolog.Logger writing JSON lines to stdout.
func New(serviceName string) zerolog.Logger {
	return NewWithWriter(serviceName, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(serviceName string, w io.Writer) zerolog.Logger {
	configureStacks()
	return zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// NewConsole returns a logger using text output with no coloring, for CLI use.
func NewConsole(serviceName string, w io.Writer) zerolog.Logger {
	configureStacks()
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	return zerolog.New(out).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// ParseLevel maps a LOG_LEVEL style string to a zerolog level. Unknown values map to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
