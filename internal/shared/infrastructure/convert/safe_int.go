// Package convert provides safe integer conversions.
package convert

import "math"

// IntToInt32Clamped converts an int to int32, clamping to the int32 range.
func IntToInt32Clamped(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// IntToUint64Clamped converts an int to uint64, clamping negative values to 0.
func IntToUint64Clamped(v int) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// ShiftClamped returns 1<<n for n in [0, max], clamping n into that range.
// It is used to size exponential backoff without overflowing.
func ShiftClamped(n, max int) int64 {
	if n < 0 {
		n = 0
	}
	if n > max {
		n = max
	}
	return int64(1) << n
}
