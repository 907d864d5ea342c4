package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidFrame(t *testing.T) {
	for _, frame := range []string{"day", "month", "year", "all"} {
		assert.True(t, ValidFrame(frame), frame)
	}
	for _, frame := range []string{"", "week", "Day", "hourly", "ALL"} {
		assert.False(t, ValidFrame(frame), frame)
	}
}

func TestFrameViewMapping(t *testing.T) {
	assert.Equal(t, "sungrow_hourly", frames["day"].view)
	assert.Equal(t, "sungrow_daily", frames["month"].view)
	assert.Equal(t, "sungrow_monthly", frames["year"].view)
	// "all" reuses the coarsest rollup unbounded.
	assert.Equal(t, "sungrow_monthly", frames["all"].view)
	assert.Empty(t, frames["all"].windowUnit)
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 8, 24, 15, 42, 7, 0, time.UTC)

	start := frames["day"].windowStart(now)
	require.NotNil(t, start)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), *start)

	start = frames["month"].windowStart(now)
	require.NotNil(t, start)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), *start)

	start = frames["year"].windowStart(now)
	require.NotNil(t, start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *start)

	assert.Nil(t, frames["all"].windowStart(now))
}

func TestWindowStartPinnedToUTC(t *testing.T) {
	// 2026-08-24 01:00+10 is 2026-08-23 15:00 UTC: the UTC day boundary,
	// not the local one, decides the window.
	loc := time.FixedZone("AEST", 10*3600)
	now := time.Date(2026, 8, 24, 1, 0, 0, 0, loc)

	start := frames["day"].windowStart(now)
	require.NotNil(t, start)
	assert.Equal(t, time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC), *start)
}
