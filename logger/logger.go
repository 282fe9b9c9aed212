package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init initializes a logger writing JSON to stderr at the level taken from
// the LOG_LEVEL environment variable (debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions("", false, "")
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs go to stderr so that command output on stdout stays clean.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
// LOG_LEVEL, when set, takes precedence over level.
func InitWithOptions(logFile string, pretty bool, level string) (zerolog.Logger, error) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl := parseLogLevel(level)

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		output = os.Stderr
	}

	log := New(output, lvl)

	switch {
	case logFile != "":
		log.Debug().Str("path", logFile).Str("level", lvl.String()).Msg("Logger initialized")
	case pretty:
		log.Debug().Str("output", "stderr").Str("format", "pretty").Str("level", lvl.String()).Msg("Logger initialized")
	default:
		log.Debug().Str("output", "stderr").Str("level", lvl.String()).Msg("Logger initialized")
	}

	return log, nil
}

// New builds a timestamped logger on w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Helper functions
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
