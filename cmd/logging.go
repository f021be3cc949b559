package cmd

import (
	"io"
	"os"
	"strings"

	"example.com/backstage/services/telemetry/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures the global zerolog logger. LOG_LEVEL overrides the configured level.
func setupLogging(cfg config.Config) func() {
	var out io.Writer = os.Stderr
	if cfg.Environment == "development" || cfg.Logging.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	var file *lumberjack.Logger
	if cfg.Logging.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	level := cfg.Logging.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	zerolog.SetGlobalLevel(parseLevel(level))

	return func() {
		if file != nil {
			_ = file.Close()
		}
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
