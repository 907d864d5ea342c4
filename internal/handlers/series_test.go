package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarhaus/telemetry/internal/model"
)

func getSeries(h http.HandlerFunc, token, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/series?"+query, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestSeriesReturnsBuckets(t *testing.T) {
	st := newFakeStore()
	st.series = []model.BucketRow{
		{
			Bucket:           time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
			AvgPVPowerW:      2100,
			MaxPVPowerW:      3900,
			AvgBatteryPowerW: -300,
			AvgBatterySOCPct: 77.5,
			AvgLoadPowerW:    650,
			AvgExportPowerW:  900,
			SampleCount:      720,
		},
		{
			Bucket:      time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			AvgPVPowerW: 2500,
			SampleCount: 311,
		},
	}
	h := Series(testVerifier(), st)

	w := getSeries(h, "tok-a", "device_id=house-1&frame=day")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		DeviceID string            `json:"device_id"`
		Frame    string            `json:"frame"`
		Series   []model.BucketRow `json:"series"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "house-1", resp.DeviceID)
	assert.Equal(t, "day", resp.Frame)
	require.Len(t, resp.Series, 2)
	assert.Equal(t, 2100.0, resp.Series[0].AvgPVPowerW)
	assert.Equal(t, int64(720), resp.Series[0].SampleCount)
}

func TestSeriesEmptyIsArrayNotNull(t *testing.T) {
	h := Series(testVerifier(), newFakeStore())

	w := getSeries(h, "tok-a", "device_id=house-1&frame=month")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"series":[]`)
}

func TestSeriesAcceptsAllFrames(t *testing.T) {
	h := Series(testVerifier(), newFakeStore())

	for _, frame := range []string{"day", "month", "year", "all"} {
		w := getSeries(h, "tok-a", "device_id=house-1&frame="+frame)
		assert.Equal(t, http.StatusOK, w.Code, "frame %s", frame)
	}
}

func TestSeriesRejectsInvalidFrame(t *testing.T) {
	h := Series(testVerifier(), newFakeStore())

	for _, frame := range []string{"", "week", "DAY", "hour"} {
		w := getSeries(h, "tok-a", "device_id=house-1&frame="+frame)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "frame %q", frame)
	}
}

func TestSeriesAuthAndOwnership(t *testing.T) {
	h := Series(testVerifier(), newFakeStore())

	w := getSeries(h, "", "device_id=house-1&frame=day")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = getSeries(h, "tok-a", "device_id=garage-2&frame=day")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = getSeries(h, "tok-a", "frame=day")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSeriesStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.seriesErr = assert.AnError
	h := Series(testVerifier(), st)

	w := getSeries(h, "tok-a", "device_id=house-1&frame=day")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
