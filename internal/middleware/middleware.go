// Package middleware provides the CORS and request-logging wrappers used by
// the ingest service router.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/solarhaus/telemetry/internal/metrics"
)

// CORS allows the configured dashboard origin to issue GET requests with an
// Authorization header. An empty origin disables CORS entirely; the
// wildcard is never used because the query endpoints are authenticated.
// Preflights short-circuit only for the configured origin; everything else
// falls through to the router.
func CORS(dashboardOrigin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if dashboardOrigin != "" && r.Header.Get("Origin") == dashboardOrigin {
				w.Header().Set("Access-Control-Allow-Origin", dashboardOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization")
				w.Header().Set("Vary", "Origin")

				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog logs one structured line per request with a generated request
// ID, method, path, status, and duration, and feeds the same duration into
// the request histogram. A nil metrics set disables observation.
func RequestLog(m *metrics.ServerMetrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			w.Header().Set("X-Request-ID", requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			if m != nil {
				m.RequestDuration.
					WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).
					Observe(elapsed.Seconds())
			}

			slog.Info("request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}
