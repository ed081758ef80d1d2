package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RequestObserver records per-request outcomes, typically into Prometheus.
type RequestObserver interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(logger zerolog.Logger, observer RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)
		if observer != nil {
			observer.ObserveRequest(r.Method, writer.status, duration)
		}

		event := logger.Info()
		if writer.status >= http.StatusInternalServerError {
			event = logger.Error()
		} else if writer.status >= http.StatusBadRequest {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", duration.Milliseconds()).
			Str("request_id", requestIDFromRequest(r)).
			Msg("request")
	})
}
