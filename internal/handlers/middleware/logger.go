package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// statusRecorder remembers what handler wrote
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.size += size
	return size, err
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.status = statusCode
}

// LoggerMiddleware logs every request, server errors go with warn level
// Request id is taken from the client or generated and echoed back
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Query is not logged: oauth2 callback carries authorization code and state there
			args := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
				"status", rec.status,
				"size", rec.size,
			}
			if rec.status >= http.StatusInternalServerError {
				l.Warn("HTTP request failed", args...)
				return
			}
			l.Info("got HTTP request", args...)
		})
	}
}
