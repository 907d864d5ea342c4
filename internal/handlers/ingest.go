package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/solarhaus/telemetry/internal/auth"
	"github.com/solarhaus/telemetry/internal/cache"
	"github.com/solarhaus/telemetry/internal/metrics"
	"github.com/solarhaus/telemetry/internal/model"
)

// sampleIn is the decode target for one wire sample. Pointer fields let
// validation distinguish a missing required field from a present zero and
// report precise field paths in 422 responses.
type sampleIn struct {
	DeviceID      *string  `json:"device_id"`
	TS            *string  `json:"ts"`
	PVPowerW      *float64 `json:"pv_power_w"`
	PVDailyKWh    *float64 `json:"pv_daily_kwh"`
	BatteryPowerW *float64 `json:"battery_power_w"`
	BatterySOCPct *float64 `json:"battery_soc_pct"`
	BatteryTempC  *float64 `json:"battery_temp_c"`
	LoadPowerW    *float64 `json:"load_power_w"`
	ExportPowerW  *float64 `json:"export_power_w"`
	SampleCount   *int     `json:"sample_count"`
}

type ingestPayload struct {
	Samples []sampleIn `json:"samples"`
}

// fieldError is one machine-readable schema violation in a 422 body.
type fieldError struct {
	Loc string `json:"loc"`
	Msg string `json:"msg"`
}

// validateSamples converts decoded wire samples into model samples,
// collecting every schema violation with its field path.
func validateSamples(in []sampleIn) ([]model.Sample, []fieldError) {
	var errs []fieldError
	samples := make([]model.Sample, 0, len(in))

	for i, s := range in {
		loc := func(field string) string { return fmt.Sprintf("samples[%d].%s", i, field) }

		var smp model.Sample
		if s.DeviceID == nil || *s.DeviceID == "" {
			errs = append(errs, fieldError{Loc: loc("device_id"), Msg: "field required"})
		} else {
			smp.DeviceID = *s.DeviceID
		}
		if s.TS == nil {
			errs = append(errs, fieldError{Loc: loc("ts"), Msg: "field required"})
		} else if ts, err := time.Parse(time.RFC3339, *s.TS); err != nil {
			errs = append(errs, fieldError{Loc: loc("ts"), Msg: "invalid RFC3339 timestamp"})
		} else {
			smp.TS = ts.UTC()
		}
		for _, req := range []struct {
			field string
			src   *float64
			dst   *float64
		}{
			{"pv_power_w", s.PVPowerW, &smp.PVPowerW},
			{"battery_power_w", s.BatteryPowerW, &smp.BatteryPowerW},
			{"battery_soc_pct", s.BatterySOCPct, &smp.BatterySOCPct},
			{"load_power_w", s.LoadPowerW, &smp.LoadPowerW},
			{"export_power_w", s.ExportPowerW, &smp.ExportPowerW},
		} {
			if req.src == nil {
				errs = append(errs, fieldError{Loc: loc(req.field), Msg: "field required"})
			} else {
				*req.dst = *req.src
			}
		}
		smp.PVDailyKWh = s.PVDailyKWh
		smp.BatteryTempC = s.BatteryTempC
		if s.SampleCount == nil {
			smp.SampleCount = 1
		} else if *s.SampleCount < 1 {
			errs = append(errs, fieldError{Loc: loc("sample_count"), Msg: "must be >= 1"})
		} else {
			smp.SampleCount = *s.SampleCount
		}

		samples = append(samples, smp)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return samples, nil
}

// Ingest returns the POST /v1/ingest handler. The check order is fixed:
// auth, content-length pre-check, body size, schema, empty batch, batch
// size, ownership, insert, cache invalidation.
func Ingest(verifier *auth.Verifier, store SampleStore, c cache.Cache, limits Limits, m *metrics.ServerMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID, ok := verifier.FromRequest(r)
		if !ok {
			writeUnauthorized(w)
			return
		}

		// Pre-read check: reject oversized bodies from the header alone.
		if cl := r.Header.Get("Content-Length"); cl != "" {
			n, err := strconv.ParseInt(cl, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid Content-Length header.")
				return
			}
			if n > limits.MaxRequestBytes {
				writeError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Request body exceeds limit of %d bytes.", limits.MaxRequestBytes))
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, limits.MaxRequestBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read request body.")
			return
		}
		if int64(len(body)) > limits.MaxRequestBytes {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds limit of %d bytes.", limits.MaxRequestBytes))
			return
		}

		var payload ingestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []fieldError{{Loc: "body", Msg: "invalid JSON: " + err.Error()}},
			})
			return
		}

		samples, fieldErrs := validateSamples(payload.Samples)
		if fieldErrs != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": fieldErrs})
			return
		}

		if len(samples) == 0 {
			writeJSON(w, http.StatusOK, map[string]int64{"inserted": 0})
			return
		}

		if len(samples) > limits.MaxSamplesPerRequest {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Batch size %d exceeds limit of %d. Split into smaller batches.",
					len(samples), limits.MaxSamplesPerRequest))
			return
		}

		for _, smp := range samples {
			if smp.DeviceID != deviceID {
				writeError(w, http.StatusForbidden,
					fmt.Sprintf("Sample device_id %q does not match authenticated device %q.", smp.DeviceID, deviceID))
				return
			}
		}

		inserted, err := store.InsertSamples(r.Context(), samples)
		if err != nil {
			slog.Error("sample insert failed", "device_id", deviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to store samples.")
			return
		}

		slog.Info("ingested samples", "device_id", deviceID, "inserted", inserted, "batch", len(samples))
		if m != nil {
			m.IngestSamples.WithLabelValues("inserted").Add(float64(inserted))
			m.IngestSamples.WithLabelValues("duplicate").Add(float64(int64(len(samples)) - inserted))
		}

		if inserted > 0 {
			// Best-effort: a cache failure never affects the response.
			c.InvalidateDevice(r.Context(), deviceID)
		}

		writeJSON(w, http.StatusOK, map[string]int64{"inserted": inserted})
	}
}
