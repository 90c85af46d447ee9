package dora

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

func TestResolveWindowPresets(t *testing.T) {
	tests := map[string]struct {
		label string
		days  int
		want  string
	}{
		"7d":        {"7d", 7, schemas.WindowLabel7Days},
		"30d":       {"30d", 30, schemas.WindowLabel30Days},
		"90d":       {"90d", 90, schemas.WindowLabel90Days},
		"uppercase": {"30D", 30, schemas.WindowLabel30Days},
		"unknown":   {"banana", 7, schemas.WindowLabel7Days},
		"empty":     {"", 7, schemas.WindowLabel7Days},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			w, err := ResolveWindow(tc.label, nil, nil, refTime)
			require.NoError(t, err)
			assert.Equal(t, tc.want, w.Label)
			assert.Equal(t, refTime, w.End)
			assert.Equal(t, refTime.Add(-time.Duration(tc.days)*24*time.Hour), w.Start)
		})
	}
}

func TestResolveWindowUnknownMatchesSevenDays(t *testing.T) {
	unknown, err := ResolveWindow("banana", nil, nil, refTime)
	require.NoError(t, err)

	week, err := ResolveWindow("7d", nil, nil, refTime)
	require.NoError(t, err)

	assert.Equal(t, week, unknown)
}

func TestResolveWindowPresetsIgnoreBounds(t *testing.T) {
	start := refTime.Add(-time.Hour)

	w, err := ResolveWindow("7d", &start, nil, refTime)
	require.NoError(t, err)
	assert.Equal(t, refTime.Add(-7*24*time.Hour), w.Start)
}

func TestResolveWindowCustom(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	w, err := ResolveWindow("custom", &start, &end, refTime)
	require.NoError(t, err)
	assert.Equal(t, schemas.Window{Start: start, End: end, Label: schemas.WindowLabelCustom}, w)

	_, err = ResolveWindow("custom", &start, nil, refTime)
	assert.ErrorIs(t, err, schemas.ErrInvalidWindow)

	_, err = ResolveWindow("custom", nil, &end, refTime)
	assert.ErrorIs(t, err, schemas.ErrInvalidWindow)

	_, err = ResolveWindow("custom", &end, &start, refTime)
	assert.ErrorIs(t, err, schemas.ErrInvalidWindow)

	_, err = ResolveWindow("custom", &start, &start, refTime)
	assert.ErrorIs(t, err, schemas.ErrInvalidWindow)
}

func TestResolveWindowCustomConvertsToUTC(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	start := time.Date(2024, 1, 1, 1, 0, 0, 0, paris)
	end := time.Date(2024, 1, 2, 1, 0, 0, 0, paris)

	w, err := ResolveWindow("custom", &start, &end, refTime)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, w.Start.Location())
	assert.True(t, w.Start.Equal(start))
}

func TestDetermineTimeRange(t *testing.T) {
	tests := map[string]struct {
		length time.Duration
		want   string
	}{
		"one hour":        {time.Hour, schemas.WindowLabel7Days},
		"seven days":      {7 * day, schemas.WindowLabel7Days},
		"partial eighth":  {7*day + 23*time.Hour, schemas.WindowLabel7Days},
		"eight days":      {8 * day, schemas.WindowLabel30Days},
		"thirty days":     {30 * day, schemas.WindowLabel30Days},
		"thirty one days": {31 * day, schemas.WindowLabel90Days},
		"ninety days":     {90 * day, schemas.WindowLabel90Days},
		"ninety one days": {91 * day, schemas.WindowLabelCustom},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineTimeRange(refTime.Add(-tc.length), refTime))
		})
	}
}
