package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarhaus/telemetry/internal/auth"
)

var testLimits = Limits{MaxSamplesPerRequest: 1000, MaxRequestBytes: 1 << 20}

func testVerifier() *auth.Verifier {
	return auth.ParseDeviceTokens("tok-a:house-1,tok-b:garage-2")
}

func wireSample(deviceID, ts string) string {
	return fmt.Sprintf(`{
		"device_id": %q, "ts": %q,
		"pv_power_w": 3500, "pv_daily_kwh": 12.3,
		"battery_power_w": -1500, "battery_soc_pct": 85.5, "battery_temp_c": 25,
		"load_power_w": 800, "export_power_w": 1200, "sample_count": 1
	}`, deviceID, ts)
}

func batchBody(samples ...string) string {
	return `{"samples":[` + strings.Join(samples, ",") + `]}`
}

func postIngest(h http.HandlerFunc, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func insertedCount(t *testing.T, w *httptest.ResponseRecorder) int64 {
	t.Helper()
	var resp struct {
		Inserted int64 `json:"inserted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Inserted
}

func TestIngestHappyPath(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	h := Ingest(testVerifier(), st, c, testLimits, nil)

	body := batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		wireSample("house-1", "2026-03-14T12:00:05Z"),
		wireSample("house-1", "2026-03-14T12:00:10Z"),
	)
	w := postIngest(h, "tok-a", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), insertedCount(t, w))
	assert.Equal(t, 3, st.count())
	assert.Equal(t, []string{"house-1"}, c.invalidations())
}

func TestIngestIdempotentResend(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	h := Ingest(testVerifier(), st, c, testLimits, nil)

	body := batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		wireSample("house-1", "2026-03-14T12:00:05Z"),
	)
	w := postIngest(h, "tok-a", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(2), insertedCount(t, w))

	// Exact resend after a lost ack: nothing inserted twice, still 200.
	w = postIngest(h, "tok-a", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), insertedCount(t, w))
	assert.Equal(t, 2, st.count())

	// The no-op resend must not invalidate the cache again.
	assert.Equal(t, []string{"house-1"}, c.invalidations())
}

func TestIngestPartialOverlap(t *testing.T) {
	st := newFakeStore()
	h := Ingest(testVerifier(), st, newFakeCache(), testLimits, nil)

	w := postIngest(h, "tok-a", batchBody(wireSample("house-1", "2026-03-14T12:00:00Z")))
	require.Equal(t, int64(1), insertedCount(t, w))

	w = postIngest(h, "tok-a", batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		wireSample("house-1", "2026-03-14T12:00:05Z"),
	))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), insertedCount(t, w))
	assert.Equal(t, 2, st.count())
}

func TestIngestRejectsMissingToken(t *testing.T) {
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), testLimits, nil)

	w := postIngest(h, "", batchBody(wireSample("house-1", "2026-03-14T12:00:00Z")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestIngestRejectsUnknownToken(t *testing.T) {
	st := newFakeStore()
	h := Ingest(testVerifier(), st, newFakeCache(), testLimits, nil)

	w := postIngest(h, "tok-wrong", batchBody(wireSample("house-1", "2026-03-14T12:00:00Z")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, st.count())
}

func TestIngestRejectsForeignDevice(t *testing.T) {
	st := newFakeStore()
	h := Ingest(testVerifier(), st, newFakeCache(), testLimits, nil)

	// tok-a authenticates house-1; one sample claims garage-2. The whole
	// batch is rejected, including the sample that matched.
	w := postIngest(h, "tok-a", batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		wireSample("garage-2", "2026-03-14T12:00:05Z"),
	))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, st.count())
}

func TestIngestRejectsOversizedBatch(t *testing.T) {
	st := newFakeStore()
	limits := Limits{MaxSamplesPerRequest: 2, MaxRequestBytes: 1 << 20}
	h := Ingest(testVerifier(), st, newFakeCache(), limits, nil)

	w := postIngest(h, "tok-a", batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		wireSample("house-1", "2026-03-14T12:00:05Z"),
		wireSample("house-1", "2026-03-14T12:00:10Z"),
	))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, st.count())
}

func TestIngestRejectsOversizedBody(t *testing.T) {
	limits := Limits{MaxSamplesPerRequest: 1000, MaxRequestBytes: 64}
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), limits, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest",
		strings.NewReader(batchBody(wireSample("house-1", "2026-03-14T12:00:00Z"))))
	req.Header.Set("Authorization", "Bearer tok-a")
	// No Content-Length pre-check path: force the body-read path.
	req.ContentLength = -1
	req.Header.Del("Content-Length")
	w := httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestIngestRejectsOversizedContentLength(t *testing.T) {
	limits := Limits{MaxSamplesPerRequest: 1000, MaxRequestBytes: 64}
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), limits, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer tok-a")
	req.Header.Set("Content-Length", "99999")
	w := httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), testLimits, nil)

	w := postIngest(h, "tok-a", `{"samples": [`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngestSchemaErrorsCarryFieldPaths(t *testing.T) {
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), testLimits, nil)

	// Second sample is missing ts and pv_power_w.
	w := postIngest(h, "tok-a", batchBody(
		wireSample("house-1", "2026-03-14T12:00:00Z"),
		`{"device_id": "house-1", "battery_power_w": 0, "battery_soc_pct": 50, "load_power_w": 0, "export_power_w": 0}`,
	))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Detail []fieldError `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	locs := make([]string, len(resp.Detail))
	for i, fe := range resp.Detail {
		locs[i] = fe.Loc
	}
	assert.Contains(t, locs, "samples[1].ts")
	assert.Contains(t, locs, "samples[1].pv_power_w")
}

func TestIngestRejectsBadTimestampAndSampleCount(t *testing.T) {
	h := Ingest(testVerifier(), newFakeStore(), newFakeCache(), testLimits, nil)

	w := postIngest(h, "tok-a", batchBody(wireSample("house-1", "not-a-time")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	bad := strings.Replace(wireSample("house-1", "2026-03-14T12:00:00Z"), `"sample_count": 1`, `"sample_count": 0`, 1)
	w = postIngest(h, "tok-a", batchBody(bad))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngestEmptyBatch(t *testing.T) {
	c := newFakeCache()
	h := Ingest(testVerifier(), newFakeStore(), c, testLimits, nil)

	w := postIngest(h, "tok-a", `{"samples": []}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), insertedCount(t, w))
	assert.Empty(t, c.invalidations())
}

func TestIngestStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.insertErr = fmt.Errorf("connection reset")
	c := newFakeCache()
	h := Ingest(testVerifier(), st, c, testLimits, nil)

	w := postIngest(h, "tok-a", batchBody(wireSample("house-1", "2026-03-14T12:00:00Z")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, c.invalidations())
}
