// Package random implements the two interval-selection conventions a
// bird's pecking schedule needs, with the convention each one uses
// documented rather than left to guesswork: wait intervals are
// half-open, peck counts are inclusive.
package random

import "math/rand"

// WaitInterval returns a value in the half-open range [min, max),
// matching a literal `rand() % (max-min) + min` formula. If max <= min,
// min is returned.
func WaitInterval(min, max uint32) uint32 {
	if max <= min {
		return min
	}
	return min + uint32(rand.Int63n(int64(max-min)))
}

// PeckCount returns a value in the closed range [min, max], inclusive of
// max. A half-open range would make the documented default of "up to 3
// pecks" (MinPecks=1, MaxPecks=3) collapse to {1, 2}, so peck counts use
// the inclusive convention instead of WaitInterval's. If max <= min, min
// is returned.
func PeckCount(min, max uint32) uint32 {
	if max <= min {
		return min
	}
	return min + uint32(rand.Int63n(int64(max-min+1)))
}
