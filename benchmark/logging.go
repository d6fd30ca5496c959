package benchmark

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// The package logger is the one console resource shared by all workers;
// zerolog serializes writes so interleaved diagnostics stay intact.
var logger zerolog.Logger

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return logger
}

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	logger = l
}
