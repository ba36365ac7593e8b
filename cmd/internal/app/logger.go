package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger builds the process logger and installs it as slog's default.
// format is "json", "pretty" or "auto" (pretty on a terminal, JSON otherwise).
func NewLogger(level, format string) *slog.Logger {
	log := slog.New(newHandler(os.Stdout, level, format))
	slog.SetDefault(log)
	return log
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	tty := isTerminal(w)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pretty", "text":
		return newPrettyHandler(w, opts, tty)
	case "auto":
		if tty {
			return newPrettyHandler(w, opts, true)
		}
	}
	opts.AddSource = true
	return slog.NewJSONHandler(w, opts)
}

func parseLogLevel(s string) slog.Level {
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

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) // #nosec G115 -- fd fits in int.
}
