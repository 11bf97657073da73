package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/job-engine/internal/observability"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestContext attaches a request id and a request-scoped logger to the
// context and logs one line per request.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestID := request.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		writer.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With("request_id", requestID)
		ctx := observability.WithRequestID(request.Context(), requestID)
		ctx = observability.WithLogger(ctx, logger)

		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		started := time.Now()

		next.ServeHTTP(recorder, request.WithContext(ctx))

		logger.Debug("http request",
			"method", request.Method,
			"path", request.URL.Path,
			"status", recorder.status,
			"duration", time.Since(started),
		)
	})
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	return observability.LoggerFromContext(ctx)
}
