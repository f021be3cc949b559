package scheduler

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// cronLogger routes gocron's logging through zerolog
type cronLogger struct{}

func (cronLogger) Debug(msg string, args ...any) { emit(log.Debug(), msg, args) }
func (cronLogger) Info(msg string, args ...any)  { emit(log.Info(), msg, args) }
func (cronLogger) Warn(msg string, args ...any)  { emit(log.Warn(), msg, args) }
func (cronLogger) Error(msg string, args ...any) { emit(log.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	e.Str("component", "gocron").Fields(args).Msg(msg)
}
