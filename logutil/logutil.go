// Package logutil configures the process-wide slog logger.
package logutil

import (
	"io"
	"log/slog"
	"path/filepath"
)

// LevelTrace logs below Debug; enabled with LUMEN_DEBUG=2.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger that trims source paths to their base
// name and labels trace records.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}

			return attr
		},
	}))
}
