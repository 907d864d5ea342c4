package edge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readState(t *testing.T, path string) livenessState {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st livenessState
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestLivenessInitialFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	l := NewLiveness(path)

	require.NoError(t, l.Flush())
	st := readState(t, path)
	assert.Nil(t, st.LastPollTS)
	assert.Nil(t, st.LastUploadTS)
	assert.Equal(t, 0, st.SpoolCount)
}

func TestLivenessRecordsProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	l := NewLiveness(path)

	pollAt := time.Date(2026, 3, 14, 12, 0, 5, 0, time.UTC)
	uploadAt := time.Date(2026, 3, 14, 12, 0, 10, 0, time.UTC)
	l.RecordPoll(pollAt)
	l.RecordUpload(uploadAt)
	l.SetSpoolCount(7)
	require.NoError(t, l.Flush())

	st := readState(t, path)
	require.NotNil(t, st.LastPollTS)
	assert.Equal(t, "2026-03-14T12:00:05Z", *st.LastPollTS)
	require.NotNil(t, st.LastUploadTS)
	assert.Equal(t, "2026-03-14T12:00:10Z", *st.LastUploadTS)
	assert.Equal(t, 7, st.SpoolCount)
}

func TestLivenessOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	l := NewLiveness(path)

	l.SetSpoolCount(1)
	require.NoError(t, l.Flush())
	l.SetSpoolCount(2)
	require.NoError(t, l.Flush())

	assert.Equal(t, 2, readState(t, path).SpoolCount)
	// No temp files left behind by the atomic rename.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
