package pipeline

import "math"

// Cadence returns the sampling interval for a stream frame rate: the rate
// rounded to the nearest integer, never below one.
func Cadence(fps float64) int {
	if math.IsNaN(fps) || fps < 1 {
		return 1
	}
	if fps > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Round(fps))
}

// Selected reports whether the frame at idx is processed under interval.
func Selected(idx, interval int) bool {
	return idx%interval == 0
}
