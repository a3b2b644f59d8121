package audio

import "math"

// Event and channel faders store their volume on a logarithmic scale and
// convert back to a linear factor at mix time. The curve is the equal-power
// square law, which round-trips exactly at 0 and 1.

// ToLog converts a linear volume (0..1) to the stored logarithmic scale.
func ToLog(linear float32) float32 {
	if linear <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(linear)))
}

// ToLinear converts a stored logarithmic volume back to a linear mix factor.
func ToLinear(logv float32) float32 {
	return logv * logv
}
