package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger configures the process-wide logger once at startup: JSON to
// stdout in production, console-pretty in development. Per-call loggers
// are derived from it with a callId field by whoever owns the call.
func InitLogger(level string, pretty bool) {
	if initialized {
		return
	}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var out = os.Stdout
	if pretty {
		globalLogger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Str("service", "callengine").Logger()
	} else {
		globalLogger = zerolog.New(out).With().Timestamp().Str("service", "callengine").Logger()
	}

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the process-wide logger, initializing it with
// defaults if InitLogger was never called (tests, one-off tools).
func GetLogger() zerolog.Logger {
	if !initialized {
		InitLogger("info", false)
	}
	return globalLogger
}
