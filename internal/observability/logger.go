package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the JSON logger. Records carry trace/span ids when a span
// is active, and credential-looking attributes are redacted.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo

	if env == "dev" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	})

	return slog.New(NewTraceHandler(handler))
}
