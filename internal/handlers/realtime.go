package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/solarhaus/telemetry/internal/auth"
	"github.com/solarhaus/telemetry/internal/cache"
	"github.com/solarhaus/telemetry/internal/metrics"
)

// Realtime returns the GET /v1/realtime handler: the latest sample for a
// device, served from the short-TTL cache when possible.
func Realtime(verifier *auth.Verifier, store SampleStore, c cache.Cache, cacheTTL time.Duration, m *metrics.ServerMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authDevice, ok := verifier.FromRequest(r)
		if !ok {
			writeUnauthorized(w)
			return
		}

		deviceID := r.URL.Query().Get("device_id")
		if deviceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "device_id query parameter is required.")
			return
		}
		if deviceID != authDevice {
			writeError(w, http.StatusForbidden, "Device ID does not match authenticated device.")
			return
		}

		key := cache.RealtimeKey(deviceID)
		if cached, hit := c.Get(r.Context(), key); hit {
			if m != nil {
				m.CacheLookups.WithLabelValues("hit").Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
		if m != nil {
			m.CacheLookups.WithLabelValues("miss").Inc()
		}

		sample, err := store.Latest(r.Context(), deviceID)
		if err != nil {
			slog.Error("latest sample query failed", "device_id", deviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to query latest sample.")
			return
		}
		if sample == nil {
			writeError(w, http.StatusNotFound, "No data found for device.")
			return
		}

		encoded, err := sample.Encode()
		if err != nil {
			slog.Error("encode latest sample", "device_id", deviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to encode sample.")
			return
		}

		// Best-effort refresh; a cache failure is logged inside and the
		// response proceeds either way.
		c.Set(r.Context(), key, encoded, cacheTTL)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(encoded)
	}
}
