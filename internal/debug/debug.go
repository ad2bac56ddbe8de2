// Package debug holds the process-wide verbosity switches and builds the
// structured logger handed to the pipeline components.
package debug

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	enabled     = os.Getenv("OP2GL_DEBUG") != ""
	verboseMode = false
	quietMode   = false
)

// Enabled reports whether debug output was requested by OP2GL_DEBUG or
// --verbose.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// ParseLevel maps a log.level setting to a slog level. Unknown values
// yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger on w. Verbose mode lowers the level to
// debug, quiet mode raises it to error.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	switch {
	case Enabled():
		lvl = slog.LevelDebug
	case quietMode:
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
