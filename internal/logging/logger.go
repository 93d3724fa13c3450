package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds a zerolog logger for the environment. Production writes JSON,
// everything else writes human-readable console output. The logger is also
// installed as the global log.Logger.
func New(env, level string, production bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, env, level, production)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, env, level string, production bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if !production {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		if level == "" {
			lvl = zerolog.DebugLevel
		}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("env", env).Logger()
	log.Logger = logger
	return logger
}
