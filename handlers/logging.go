package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger emits one structured log entry per request through the
// injected logger: method, path, status, bytes written and duration. chi's
// WrapResponseWriter captures the status code the handler eventually wrote.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			wrapped := middleware.NewWrapResponseWriter(responseWriter, request.ProtoMajor)
			startedAt := time.Now()

			next.ServeHTTP(wrapped, request)

			logger.Info("http request",
				"method", request.Method,
				"path", request.URL.Path,
				"status", wrapped.Status(),
				"bytes", wrapped.BytesWritten(),
				"durationMs", time.Since(startedAt).Milliseconds(),
				"remote", request.RemoteAddr,
			)
		})
	}
}
