// Package logging configures the process-wide slog logger.
//
// The daemon usually runs as a background service, so the default sink is
// JSON on stderr at info level. Foreground runs (a TTY on stderr, or the
// --no-background flag) get a debug default and, when the format is auto,
// tinted human-readable output. Clipboard contents never belong in log
// records; call sites log entry ids, kinds and byte counts instead.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Init configures the global slog logger. Call once, after flag/viper
// parsing. foreground forces interactive defaults even when stderr is not a
// TTY; format is auto|text|json; level is debug|info|warn|error, with ""
// selecting the run-mode default.
func Init(foreground bool, format, level string) {
	w := os.Stderr
	interactive := foreground || IsTTY(w)
	lvl := parseLevel(level, interactive)

	var h slog.Handler
	if f := parseFormat(format); f == formatText || (f == formatAuto && IsTTY(w)) {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      lvl,
			TimeFormat: "15:04:05.000",
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lvl,
		})
	}
	slog.SetDefault(slog.New(h))
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

type format string

const (
	formatAuto format = "auto"
	formatText format = "text"
	formatJSON format = "json"
)

// parseFormat tolerates a few aliases and falls back to auto.
func parseFormat(s string) format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return formatText
	case "json":
		return formatJSON
	default:
		return formatAuto
	}
}

// parseLevel maps a flag value to a slog.Level. An empty value picks the
// run-mode default: debug in the foreground, info as a service.
func parseLevel(s string, interactive bool) slog.Level {
	if s == "" {
		if interactive {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
