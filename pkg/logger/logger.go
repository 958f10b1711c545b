package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a structured logger writing to stdout. Development builds get
// debug level and a console writer; everything else logs JSON at info.
func New(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "wedding-ai").
		Logger()

	if appEnv == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return log
}
