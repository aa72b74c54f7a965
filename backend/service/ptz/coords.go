package ptz

import "math"

// decodeEpsilon widens the normalized window when guessing whether an
// absolute coordinate is already normalized.
const decodeEpsilon = 0.01

// Vector is a position in the generic space: pan and tilt in [-1,1], zoom in [0,1].
type Vector struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// clamp maps NaN to lo so every result stays inside [lo,hi].
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// RangeToNormalized maps a native pan or tilt value onto [-1,1].
func RangeToNormalized(v, lo, hi float64) float64 {
	if hi <= lo {
		return -1
	}
	return clamp((v-lo)/(hi-lo)*2-1, -1, 1)
}

// NormalizedToRange maps n in [-1,1] onto the native range.
func NormalizedToRange(n, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return clamp(lo+(n+1)/2*(hi-lo), lo, hi)
}

// ZoomToNormalized maps a native zoom value onto [0,1].
func ZoomToNormalized(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return clamp((v-lo)/(hi-lo), 0, 1)
}

func NormalizedToZoom(n, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return clamp(lo+n*(hi-lo), lo, hi)
}

// DecodePanTilt accepts either a normalized value or a native one. Values close
// enough to [-1,1] are taken as normalized.
func DecodePanTilt(v, lo, hi float64) float64 {
	if v >= -1-decodeEpsilon && v <= 1+decodeEpsilon {
		return clamp(v, -1, 1)
	}
	return RangeToNormalized(v, lo, hi)
}

// DecodeZoom is DecodePanTilt for the [0,1] zoom space.
func DecodeZoom(v, lo, hi float64) float64 {
	if v >= -decodeEpsilon && v <= 1+decodeEpsilon {
		return clamp(v, 0, 1)
	}
	return ZoomToNormalized(v, lo, hi)
}

// ApplyReverse negates pan and tilt when reverse is set. Zoom is never touched.
func ApplyReverse(v Vector, reverse bool) Vector {
	if reverse {
		// 0 - x keeps a zero axis at +0 so it never prints as "-0".
		v.Pan = 0 - v.Pan
		v.Tilt = 0 - v.Tilt
	}
	return v
}
