// Package logging configures structured logging for the sandbox daemon using
// zerolog.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Setup initialises the global zerolog logger from environment variables:
//
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json; console when stderr is a TTY
//     and LOG_FORMAT is unset)
//
// It also bridges the standard library "log" package so that third-party
// libraries using log.Printf are captured in structured format.
func Setup() zerolog.Logger {
	levelStr := os.Getenv("LOG_LEVEL")
	formatStr := os.Getenv("LOG_FORMAT")
	if formatStr == "" && isatty.IsTerminal(os.Stderr.Fd()) {
		formatStr = "console"
	}
	return SetupWithConfig(levelStr, formatStr, os.Stderr)
}

// SetupWithConfig configures zerolog with explicit parameters (useful for
// testing).
func SetupWithConfig(levelStr, formatStr string, w io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(levelStr))

	var out io.Writer = w
	if strings.EqualFold(strings.TrimSpace(formatStr), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.SetOutput(logger)
	log.SetFlags(0) // zerolog handles timestamps
	return logger
}

// ParseLevel converts a string to a zerolog.Level. Defaults to InfoLevel.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
