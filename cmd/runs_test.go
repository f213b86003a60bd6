package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/potentials/internal/store"
)

func testRuns(now time.Time) []store.Run {
	return []store.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Mode:      "raster",
			Variable:  "pop",
			Status:    store.RunStatusComplete,
			CreatedAt: now,
			UpdatedAt: now.Add(4 * time.Second),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Mode:      "discrete",
			Variable:  "jobs_per_1000",
			Status:    store.RunStatusFailed,
			Error:     "grid: 1000 x 1000 cells at resolution 100 exceeds limit 4000000",
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		},
		{
			ID:        "0a0b0c0d-0000-0000-0000-000000000000",
			Mode:      "discrete",
			Variable:  "pop",
			Status:    store.RunStatusComplete,
			CreatedAt: now.Add(-72 * time.Hour),
			UpdatedAt: now.Add(-72*time.Hour + 2*time.Second),
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	formatRunsList(&buf, testRuns(now))

	output := buf.String()
	for _, want := range []string{"ID", "MODE", "VARIABLE", "STATUS", "abc12345", "raster", "complete", "jobs_per_1000", "failed", "2025-06-15 10:30", "4s"} {
		assert.Contains(t, output, want)
	}
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "grid: 1000 x 1000 cells at resolution...")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	s := computeRunStats(testRuns(now), 24*time.Hour, now)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Raster)
	assert.Equal(t, 1, s.Discrete)
	assert.InDelta(t, 4.0, s.AvgDurSecs, 1e-9)

	all := computeRunStats(testRuns(now), 0, now)
	assert.Equal(t, 3, all.Total)
	assert.InDelta(t, 3.0, all.AvgDurSecs, 1e-9)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Complete: 2, Failed: 1, Discrete: 2, Raster: 1, AvgDurSecs: 3})
	out := buf.String()
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "Avg duration:")
	assert.Contains(t, out, "3.0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
