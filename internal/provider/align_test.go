package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignTimestamps_NoChangeWithinTolerance(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 10},
		{Start: 10, End: 20.5},
	}
	out := alignTimestamps(segments, 20)
	assert.Equal(t, 0.0, out[0].Start)
	assert.Equal(t, 10.0, out[0].End)
	// 20.5 exceeds the duration but not the 5% tolerance, so no rescale;
	// the end is clamped.
	assert.Equal(t, 20.0, out[1].End)
}

func TestAlignTimestamps_RescalesOvershoot(t *testing.T) {
	// 120 against a 60 second clip overshoots by 100%; everything halves.
	segments := []Segment{
		{Start: 0, End: 60, Words: []Word{{Start: 0, End: 60}}},
		{Start: 60, End: 120},
	}
	out := alignTimestamps(segments, 60)
	assert.Equal(t, 30.0, out[0].End)
	assert.Equal(t, 30.0, out[1].Start)
	assert.Equal(t, 60.0, out[1].End)
	assert.Equal(t, 30.0, out[0].Words[0].End)
}

func TestAlignTimestamps_ClampsNegatives(t *testing.T) {
	out := alignTimestamps([]Segment{{Start: -1, End: 5}}, 60)
	assert.Equal(t, 0.0, out[0].Start)
}

func TestAlignTimestamps_DegenerateSpanGetsMinimalWidth(t *testing.T) {
	out := alignTimestamps([]Segment{{Start: 5, End: 5}}, 60)
	assert.Equal(t, 5.0, out[0].Start)
	assert.InDelta(t, 5.1, out[0].End, 1e-9)
}

func TestAlignTimestamps_DegenerateSpanAtClipEnd(t *testing.T) {
	out := alignTimestamps([]Segment{{Start: 60, End: 60}}, 60)
	require.Less(t, out[0].Start, out[0].End)
	assert.Equal(t, 60.0, out[0].End)
}

func TestAlignTimestamps_EmptyAndZeroDuration(t *testing.T) {
	assert.Empty(t, alignTimestamps(nil, 60))
	segments := []Segment{{Start: 1, End: 2}}
	assert.Equal(t, segments, alignTimestamps(segments, 0))
}
