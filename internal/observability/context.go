package observability

import (
	"context"
	"log/slog"
)

type requestIDKeyType struct{}

type loggerKeyType struct{}

var (
	requestIDKey = requestIDKeyType{}
	loggerKey    = loggerKeyType{}
)

func RequestIDKey() any {
	return requestIDKey
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request- or job-scoped logger, falling back
// to the process default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
