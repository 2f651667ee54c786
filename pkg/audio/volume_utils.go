package audio

import "math"

// volumeToPower maps linear volume (0..1) to the base-2 exponent used by effects.Volume.
// 1 is unity gain, 0.5 is -1 (half amplitude).
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10
	}
	return math.Log2(vol)
}
