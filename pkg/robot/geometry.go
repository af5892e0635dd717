package robot

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gwillem/reachymini/pkg/kinematics"
	"gonum.org/v1/gonum/spatial/r3"
)

//go:embed geometry.json
var defaultGeometry []byte

// BranchConfig describes one leg of the head platform.
type BranchConfig struct {
	// BranchPosition is the rod attach point in the head frame, meters.
	BranchPosition [3]float64 `json:"branch_position"`
	// MotorToWorld places the motor frame in the world frame.
	MotorToWorld [4][4]float64 `json:"motor_to_world"`
	// Solution selects the elbow configuration: 0 for -1, otherwise +1.
	Solution int `json:"solution"`
}

// Geometry is the static description of the head linkage.
type Geometry struct {
	MotorArmLength float64        `json:"motor_arm_length"`
	RodLength      float64        `json:"rod_length"`
	HeadZOffset    float64        `json:"head_z_offset"` // head height at zero joints, meters
	Branches       []BranchConfig `json:"branches"`
}

// DefaultGeometry returns the built-in Reachy Mini head geometry.
func DefaultGeometry() Geometry {
	g, err := ParseGeometry(defaultGeometry)
	if err != nil {
		panic(fmt.Sprintf("embedded geometry: %v", err))
	}
	return g
}

// LoadGeometry reads a geometry JSON file.
func LoadGeometry(path string) (Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Geometry{}, fmt.Errorf("read geometry file: %w", err)
	}
	return ParseGeometry(data)
}

// ParseGeometry decodes and validates geometry JSON.
func ParseGeometry(data []byte) (Geometry, error) {
	var g Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return Geometry{}, fmt.Errorf("parse geometry JSON: %w", err)
	}
	if g.MotorArmLength <= 0 || g.RodLength <= 0 {
		return Geometry{}, fmt.Errorf("geometry: arm and rod lengths must be positive")
	}
	if n := len(g.Branches); n != len(HeadMotors()) {
		return Geometry{}, fmt.Errorf("geometry: %d branches, want %d", n, len(HeadMotors()))
	}
	return g, nil
}

// Home returns the head pose at zero joint angles.
func (g Geometry) Home() kinematics.Matrix4 {
	return kinematics.Translation(0, 0, g.HeadZOffset)
}

// Solver builds a kinematics solver for g, seeded at the home pose.
func (g Geometry) Solver() (*kinematics.Solver, error) {
	s := kinematics.NewSolver(g.MotorArmLength, g.RodLength)
	for i, b := range g.Branches {
		worldToMotor, err := kinematics.Matrix4(b.MotorToWorld).Inverse()
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		solution := 1.0
		if b.Solution == 0 {
			solution = -1
		}
		attach := r3.Vec{X: b.BranchPosition[0], Y: b.BranchPosition[1], Z: b.BranchPosition[2]}
		if err := s.AddBranch(attach, worldToMotor, solution); err != nil {
			return nil, err
		}
	}
	s.Reset(g.Home())
	return s, nil
}
