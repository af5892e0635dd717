package kinematics

import "math"

// gimbalEpsilon is the |cos(pitch)| below which roll and yaw are no longer
// independent.
const gimbalEpsilon = 1e-6

// Pose is a position in meters and an XYZ Euler orientation in radians.
type Pose struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// FromEuler returns the rotation Rz(yaw)·Ry(pitch)·Rx(roll).
func FromEuler(roll, pitch, yaw float64) Matrix4 {
	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)
	return Matrix4{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr, 0},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr, 0},
		{-sp, cp * sr, cp * cr, 0},
		{0, 0, 0, 1},
	}
}

// Euler extracts roll, pitch and yaw from the rotation part of m, the
// inverse of FromEuler. At pitch ±90° yaw is reported as 0 and the whole
// rotation about the vertical is folded into roll.
func Euler(m Matrix4) (roll, pitch, yaw float64) {
	pitch = math.Asin(math.Max(-1, math.Min(1, -m[2][0])))
	if math.Abs(math.Cos(pitch)) > gimbalEpsilon {
		roll = math.Atan2(m[2][1], m[2][2])
		yaw = math.Atan2(m[1][0], m[0][0])
		return roll, pitch, yaw
	}
	roll = math.Atan2(-m[1][2], m[1][1])
	return roll, pitch, 0
}

// Matrix returns the transform for p.
func (p Pose) Matrix() Matrix4 {
	m := FromEuler(p.Roll, p.Pitch, p.Yaw)
	m[0][3], m[1][3], m[2][3] = p.X, p.Y, p.Z
	return m
}

// PoseFromMatrix decomposes a rigid transform into a Pose.
func PoseFromMatrix(m Matrix4) Pose {
	roll, pitch, yaw := Euler(m)
	return Pose{
		X: m[0][3], Y: m[1][3], Z: m[2][3],
		Roll: roll, Pitch: pitch, Yaw: yaw,
	}
}
