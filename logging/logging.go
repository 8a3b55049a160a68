// ABOUTME: Structured logger construction for the pipeline engine
// ABOUTME: Wraps charmbracelet/log with a string level from config

package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// ParseLevel maps a config string to a log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a timestamped logger writing to w. An unknown level falls back
// to info and the error is returned alongside the usable logger.
func New(w io.Writer, level string) (*log.Logger, error) {
	logger := log.New(w)
	logger.SetReportTimestamp(true)

	lvl, err := ParseLevel(level)
	logger.SetLevel(lvl)
	return logger, err
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
