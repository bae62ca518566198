package series

import "math"

// Sample is any numeric pixel sample type.
type Sample interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Normalize linearly rescales samples into 0..255. The minimum maps to 0 and
// the maximum to 255. A constant buffer, including an empty or single-sample
// one, maps to all zeros. NaN samples are ignored for the range and map to 0.
func Normalize[T Sample](samples []T) []uint8 {
	out := make([]uint8, len(samples))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if !(hi > lo) || math.IsInf(hi-lo, 0) {
		return out
	}

	scale := 255 / (hi - lo)
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) {
			continue
		}
		v := math.Round((f - lo) * scale)
		switch {
		case v <= 0:
			out[i] = 0
		case v >= 255:
			out[i] = 255
		default:
			out[i] = uint8(v)
		}
	}
	return out
}
