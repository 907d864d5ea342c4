// Package handlers implements the HTTP surface of the ingest service:
// POST /v1/ingest, GET /v1/realtime, GET /v1/series, and GET /health.
// Handlers are closure constructors over their dependencies, wired by
// cmd/server.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/solarhaus/telemetry/internal/model"
)

// SampleStore is the slice of the time-series store the handlers use.
// *store.Store implements it; tests use fakes.
type SampleStore interface {
	InsertSamples(ctx context.Context, samples []model.Sample) (int64, error)
	Latest(ctx context.Context, deviceID string) (*model.Sample, error)
	Series(ctx context.Context, deviceID, frame string) ([]model.BucketRow, error)
}

// Limits carries the request caps enforced by the ingest endpoint.
type Limits struct {
	MaxSamplesPerRequest int
	MaxRequestBytes      int64
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "Invalid or missing bearer token.")
}

// Health returns the unauthenticated liveness probe handler.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
