package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// RequestIDKey is the log attribute carrying the request id
const RequestIDKey = "request_id"

type ctxKey struct{}

// New returns a JSON logger on stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRequestID tags l with the request id carried by ctx, if any.
func WithRequestID(ctx context.Context, l *slog.Logger) *slog.Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return l.With(slog.String(RequestIDKey, id))
}
