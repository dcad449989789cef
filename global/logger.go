// Package global provides ready-made process-wide registries for the
// shared resources services most commonly treat as singletons: the logger,
// a Redis client, and a gRPC client connection. Each follows the same
// shape: a Configure step that binds construction parameters exactly once,
// a lazy accessor, a Set counterpart for controlled swaps, and a test-only
// Reset.
package global

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolink/single/singleton"
)

func newDefaultLogger(context.Context) (zerolog.Logger, error) {
	return zerolog.New(os.Stderr).With().Timestamp().Logger(), nil
}

var loggerRegistry = singleton.New(newDefaultLogger, singleton.WithName("logger"))

// ConfigureLogger binds the writer and level for the process-wide logger.
// Like ConfigureRedis, parameters are bound exactly once: configuring
// after the logger has been built fails with singleton.ErrAlreadyBuilt.
// A nil writer means stderr.
func ConfigureLogger(w io.Writer, level zerolog.Level) error {
	if w == nil {
		w = os.Stderr
	}
	return loggerRegistry.Rebind(func(context.Context) (zerolog.Logger, error) {
		return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
	})
}

// Logger returns the process-wide logger, building the default stderr
// logger on first demand.
func Logger() zerolog.Logger {
	return loggerRegistry.MustGet(context.Background())
}

// SetLogger replaces the process-wide logger.
func SetLogger(l zerolog.Logger) {
	loggerRegistry.Replace(l)
}

// ResetLogger empties the slot and restores the default logger behavior.
// Test-only.
func ResetLogger() {
	loggerRegistry.Reset()
	if err := loggerRegistry.Rebind(newDefaultLogger); err != nil {
		log.Error().Err(err).Msg("failed to reset logger registry")
	}
}
