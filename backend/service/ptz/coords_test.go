package ptz

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeRoundTrip(t *testing.T) {
	ranges := [][2]float64{{-1, 1}, {-90, 90}, {0, 360}, {-170.5, 12.25}, {1000, 4000}}
	for _, r := range ranges {
		for n := -1.0; n <= 1.0; n += 0.05 {
			native := NormalizedToRange(n, r[0], r[1])
			assert.InDelta(t, n, RangeToNormalized(native, r[0], r[1]), 1e-9, "range %v n=%v", r, n)
		}
	}
	for n := 0.0; n <= 1.0; n += 0.05 {
		native := NormalizedToZoom(n, 1, 30)
		assert.InDelta(t, n, ZoomToNormalized(native, 1, 30), 1e-9)
	}
}

func TestConversionsClamp(t *testing.T) {
	for _, v := range []float64{-1e9, -91, -90, 0, 90, 91, 1e9} {
		n := RangeToNormalized(v, -90, 90)
		assert.GreaterOrEqual(t, n, -1.0)
		assert.LessOrEqual(t, n, 1.0)

		z := ZoomToNormalized(v, 0, 10)
		assert.GreaterOrEqual(t, z, 0.0)
		assert.LessOrEqual(t, z, 1.0)
	}
	assert.Equal(t, 90.0, NormalizedToRange(3, -90, 90))
	assert.Equal(t, -90.0, NormalizedToRange(-3, -90, 90))
	assert.Equal(t, 10.0, NormalizedToZoom(2, 0, 10))
}

func TestConversionsClampNaN(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name   string
		got    float64
		lo, hi float64
	}{
		{"range to normalized", RangeToNormalized(nan, -90, 90), -1, 1},
		{"normalized to range", NormalizedToRange(nan, -90, 90), -90, 90},
		{"zoom to normalized", ZoomToNormalized(nan, 0, 10), 0, 1},
		{"normalized to zoom", NormalizedToZoom(nan, 0, 10), 0, 10},
		{"decode pan tilt", DecodePanTilt(nan, -90, 90), -1, 1},
		{"decode zoom", DecodeZoom(nan, 0, 10), 0, 1},
	}
	for _, tc := range cases {
		assert.False(t, math.IsNaN(tc.got), tc.name)
		assert.GreaterOrEqual(t, tc.got, tc.lo, tc.name)
		assert.LessOrEqual(t, tc.got, tc.hi, tc.name)
	}
}

func TestDegenerateRanges(t *testing.T) {
	assert.Equal(t, -1.0, RangeToNormalized(5, 3, 3))
	assert.Equal(t, 3.0, NormalizedToRange(0.5, 3, 3))
	assert.Equal(t, 0.0, ZoomToNormalized(5, 1, 1))
	assert.Equal(t, 1.0, NormalizedToZoom(0.5, 1, 1))
	assert.Equal(t, 0.0, ZoomToNormalized(5, 2, 1))
}

func TestDecodeHeuristic(t *testing.T) {
	assert.Equal(t, 0.5, DecodePanTilt(0.5, -90, 90))
	assert.Equal(t, 0.5, DecodePanTilt(45.0, -90, 90))
	assert.Equal(t, 1.0, DecodePanTilt(1.005, -90, 90))
	assert.Equal(t, -1.0, DecodePanTilt(-1.009, -90, 90))
	assert.Equal(t, -1.0, DecodePanTilt(-90, -90, 90))

	assert.Equal(t, 0.25, DecodeZoom(0.25, 0, 10))
	assert.Equal(t, 0.5, DecodeZoom(5, 0, 10))
	assert.Equal(t, 0.0, DecodeZoom(-0.005, 0, 10))
}

func TestApplyReverse(t *testing.T) {
	v := Vector{Pan: 0.3, Tilt: -0.7, Zoom: 0.4}
	reversed := ApplyReverse(v, true)
	assert.Equal(t, Vector{Pan: -0.3, Tilt: 0.7, Zoom: 0.4}, reversed)
	assert.Equal(t, v, ApplyReverse(reversed, true))
	assert.Equal(t, v, ApplyReverse(v, false))

	zero := ApplyReverse(Vector{}, true)
	assert.Equal(t, "0", strconv.FormatFloat(zero.Pan, 'f', -1, 64))
}
