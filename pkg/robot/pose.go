package robot

import (
	"fmt"
	"math"

	"github.com/gwillem/reachymini/pkg/kinematics"
)

// HeadPose is a head pose in user units: millimeters and degrees. Z is
// measured from the home height, so the zero pose is the rest position.
type HeadPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

func (p HeadPose) String() string {
	return fmt.Sprintf("x=%.1fmm y=%.1fmm z=%.1fmm roll=%.1f° pitch=%.1f° yaw=%.1f°",
		p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

// Pose converts p to SI units in the world frame, adding zOffset meters to Z.
func (p HeadPose) Pose(zOffset float64) kinematics.Pose {
	return kinematics.Pose{
		X:     p.X / 1000,
		Y:     p.Y / 1000,
		Z:     p.Z/1000 + zOffset,
		Roll:  p.Roll * math.Pi / 180,
		Pitch: p.Pitch * math.Pi / 180,
		Yaw:   p.Yaw * math.Pi / 180,
	}
}

// HeadPoseFrom converts a world frame pose to user units.
func HeadPoseFrom(k kinematics.Pose, zOffset float64) HeadPose {
	return HeadPose{
		X:     k.X * 1000,
		Y:     k.Y * 1000,
		Z:     (k.Z - zOffset) * 1000,
		Roll:  k.Roll * 180 / math.Pi,
		Pitch: k.Pitch * 180 / math.Pi,
		Yaw:   k.Yaw * 180 / math.Pi,
	}
}
