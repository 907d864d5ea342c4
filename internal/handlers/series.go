package handlers

import (
	"log/slog"
	"net/http"

	"github.com/solarhaus/telemetry/internal/auth"
	"github.com/solarhaus/telemetry/internal/model"
	"github.com/solarhaus/telemetry/internal/store"
)

// seriesResponse is the GET /v1/series body.
type seriesResponse struct {
	DeviceID string            `json:"device_id"`
	Frame    string            `json:"frame"`
	Series   []model.BucketRow `json:"series"`
}

// Series returns the GET /v1/series handler: bucketed aggregates for a
// device at the resolution implied by the frame (day, month, year, all).
func Series(verifier *auth.Verifier, st SampleStore) http.HandlerFunc {
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

		frame := r.URL.Query().Get("frame")
		if !store.ValidFrame(frame) {
			writeError(w, http.StatusUnprocessableEntity,
				"Invalid frame. Must be one of: all, day, month, year.")
			return
		}

		rows, err := st.Series(r.Context(), deviceID, frame)
		if err != nil {
			slog.Error("series query failed", "device_id", deviceID, "frame", frame, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to query series.")
			return
		}
		if rows == nil {
			rows = []model.BucketRow{}
		}

		writeJSON(w, http.StatusOK, seriesResponse{
			DeviceID: deviceID,
			Frame:    frame,
			Series:   rows,
		})
	}
}
