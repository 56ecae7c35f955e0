// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
)

const timeFormat = "2006-01-02 15:04:05"

// New returns a text logger writing to w. Per-connection diagnostics are
// logged at Debug and only appear when verbose is set.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(timeFormat))
	}
	return a
}
