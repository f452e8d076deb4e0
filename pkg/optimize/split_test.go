package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWindowsPercentage(t *testing.T) {
	windows, err := BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 0.7}, 1000)
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, 0, w.ISStart)
	assert.Equal(t, 700, w.ISEnd)
	assert.Equal(t, 700, w.OOSStart)
	assert.Equal(t, 1000, w.OOSEnd)
	assert.True(t, w.HasOOS())
}

func TestBuildWindowsPercentageFullSample(t *testing.T) {
	windows, err := BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 1.0}, 500)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 500, windows[0].ISEnd)
	assert.False(t, windows[0].HasOOS())
}

func TestBuildWindowsDefaultsToPercentage(t *testing.T) {
	windows, err := BuildWindows(SplitConfig{InSamplePct: 0.5}, 100)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 50, windows[0].ISEnd)
}

func TestBuildWindowsPercentageMinimumIS(t *testing.T) {
	// A tiny percentage still leaves enough in-sample days to simulate.
	windows, err := BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 0.01}, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, windows[0].ISEnd)
}

func TestBuildWindowsPercentageBounds(t *testing.T) {
	_, err := BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 0}, 100)
	assert.Error(t, err)

	_, err = BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 1.5}, 100)
	assert.Error(t, err)

	_, err = BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: -0.2}, 100)
	assert.Error(t, err)
}

func TestBuildWindowsWalkForward(t *testing.T) {
	cfg := SplitConfig{
		Kind:        SplitWalkForward,
		ISLength:    100,
		OOSLength:   50,
		Granularity: GranularityDaily,
	}

	windows, err := BuildWindows(cfg, 400)
	require.NoError(t, err)

	// 400 days fit windows starting at 0, 50, 100, ..., 250.
	require.Len(t, windows, 6)
	for i, w := range windows {
		assert.Equal(t, i*50, w.ISStart)
		assert.Equal(t, i*50+100, w.ISEnd)
		assert.Equal(t, i*50+100, w.OOSStart)
		assert.Equal(t, i*50+150, w.OOSEnd)
		assert.True(t, w.HasOOS())
	}
}

func TestBuildWindowsWalkForwardGranularity(t *testing.T) {
	monthly := SplitConfig{
		Kind:        SplitWalkForward,
		ISLength:    12,
		OOSLength:   3,
		Granularity: GranularityMonthly,
	}
	windows, err := BuildWindows(monthly, 12*21+3*21)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 252, windows[0].ISEnd)
	assert.Equal(t, 252+63, windows[0].OOSEnd)

	yearly := SplitConfig{
		Kind:        SplitWalkForward,
		ISLength:    2,
		OOSLength:   1,
		Granularity: GranularityYearly,
	}
	windows, err = BuildWindows(yearly, 3*252)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 504, windows[0].ISEnd)
	assert.Equal(t, 756, windows[0].OOSEnd)
}

func TestBuildWindowsWalkForwardErrors(t *testing.T) {
	_, err := BuildWindows(SplitConfig{
		Kind: SplitWalkForward, ISLength: 0, OOSLength: 5, Granularity: GranularityDaily,
	}, 1000)
	assert.Error(t, err)

	_, err = BuildWindows(SplitConfig{
		Kind: SplitWalkForward, ISLength: 100, OOSLength: 0, Granularity: GranularityDaily,
	}, 1000)
	assert.Error(t, err)

	// History shorter than one full IS+OOS pair.
	_, err = BuildWindows(SplitConfig{
		Kind: SplitWalkForward, ISLength: 100, OOSLength: 50, Granularity: GranularityDaily,
	}, 120)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestBuildWindowsTooFewDays(t *testing.T) {
	_, err := BuildWindows(SplitConfig{Kind: SplitPercentage, InSamplePct: 0.7}, 1)
	assert.Error(t, err)
}

func TestBuildWindowsUnknownKind(t *testing.T) {
	_, err := BuildWindows(SplitConfig{Kind: "rolling"}, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown split kind")
}
