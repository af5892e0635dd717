package dynamixel

import "math"

// Position resolution of the XL330.
const (
	TicksPerRevolution = 4096
	CenterPosition     = 2048
)

const (
	ticksPerRadian = TicksPerRevolution / (2 * math.Pi)
	radiansPerTick = (2 * math.Pi) / TicksPerRevolution
)

// RadiansToRaw converts an angle to a goal position. Zero radians is the
// center tick; the fractional tick is truncated. Out of range angles are
// not clamped.
func RadiansToRaw(rad float64) int32 {
	return int32(CenterPosition + float64(rad*ticksPerRadian))
}

// RawToRadians converts a present position to an angle.
func RawToRadians(raw int32) float64 {
	return float64(raw-CenterPosition) * radiansPerTick
}
