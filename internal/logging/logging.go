package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from LOG_LEVEL and LOG_FORMAT.
// def is used when LOG_LEVEL is unset.
func Init(w io.Writer, def zerolog.Level) {
	zerolog.SetGlobalLevel(Level(os.Getenv("LOG_LEVEL"), def))
	zerolog.TimeFieldFormat = time.RFC3339

	if os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Level maps a LOG_LEVEL value to a zerolog level.
func Level(s string, def zerolog.Level) zerolog.Level {
	switch s {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	}
	return def
}
