package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Solver defaults.
const (
	DefaultMaxIterations = 50
	DefaultTolerance     = 1e-10

	// damping keeps the normal equations invertible near singular poses.
	damping = 1e-12
	// minStep is the update norm below which iteration has stalled.
	minStep = 1e-15
	// assemblyTolerance is the joint error, radians, allowed when mapping a
	// converged pose back through inverse kinematics.
	assemblyTolerance = 1e-6
)

var (
	// ErrUnreachable matches any *UnreachableError with errors.Is.
	ErrUnreachable = errors.New("kinematics: pose unreachable")
	ErrJointCount  = errors.New("kinematics: joint count does not match branch count")
	ErrNoBranches  = errors.New("kinematics: no branches")
)

// UnreachableError reports the first branch that cannot reach a pose.
type UnreachableError struct {
	Branch int
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("kinematics: pose unreachable by branch %d", e.Branch)
}

func (e *UnreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

// Branch is one actuated leg: a motor horn swinging in the motor's XY plane
// and a rod from the horn tip to an attach point on the head plate.
type Branch struct {
	Attach       r3.Vec  // attach point in the head frame
	WorldToMotor Matrix4 // world to motor frame
	MotorToWorld Matrix4 // motor to world frame
	Solution     float64 // -1 or +1, selects the elbow configuration
}

// FKResult is the outcome of a forward kinematics solve.
type FKResult struct {
	Pose       Matrix4
	Iterations int
	Residual   float64 // largest rod length error, meters
	Converged  bool
}

// Solver computes joint angles from a head pose and back. It keeps the last
// converged forward solution as the starting point for the next one, so a
// Solver must not be shared between goroutines.
type Solver struct {
	MaxIterations int
	Tolerance     float64

	arm      float64
	rod      float64
	branches []Branch
	seed     Matrix4
}

// NewSolver returns a solver for horns of length arm and rods of length rod.
// The forward kinematics seed starts at the identity; use Reset to start
// near the expected pose.
func NewSolver(arm, rod float64) *Solver {
	return &Solver{
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		arm:           arm,
		rod:           rod,
		seed:          Identity(),
	}
}

// AddBranch appends a leg. Joint slices follow the order of insertion.
// solution selects the elbow: negative for -1, positive for +1.
func (s *Solver) AddBranch(attach r3.Vec, worldToMotor Matrix4, solution float64) error {
	if solution == 0 || math.IsNaN(solution) {
		return fmt.Errorf("add branch %d: solution must be -1 or +1, got %v", len(s.branches), solution)
	}
	motorToWorld, err := worldToMotor.Inverse()
	if err != nil {
		return fmt.Errorf("add branch %d: %w", len(s.branches), err)
	}
	s.branches = append(s.branches, Branch{
		Attach:       attach,
		WorldToMotor: worldToMotor,
		MotorToWorld: motorToWorld,
		Solution:     math.Copysign(1, solution),
	})
	return nil
}

// Branches returns a copy of the legs in joint order.
func (s *Solver) Branches() []Branch {
	return append([]Branch(nil), s.branches...)
}

// Seed returns the current forward kinematics starting pose.
func (s *Solver) Seed() Matrix4 {
	return s.seed
}

// Reset replaces the forward kinematics starting pose.
func (s *Solver) Reset(seed Matrix4) {
	s.seed = seed
}

// InverseKinematics returns one joint angle per branch that places the head
// at pose. Angles are wrapped to (-π, π]; when hint holds one angle per
// branch each result is instead the 2π equivalent closest to its hint.
func (s *Solver) InverseKinematics(pose Matrix4, hint []float64) ([]float64, error) {
	if len(s.branches) == 0 {
		return nil, ErrNoBranches
	}
	useHint := len(hint) == len(s.branches)
	joints := make([]float64, len(s.branches))
	for i, b := range s.branches {
		p := b.WorldToMotor.Apply(pose.Apply(b.Attach))
		rho := math.Hypot(p.X, p.Y)
		k := (r3.Dot(p, p) + s.arm*s.arm - s.rod*s.rod) / (2 * s.arm)
		// NaN fails both comparisons
		if !finite(p) || !(rho >= 1e-12) || !(math.Abs(k) <= rho) {
			return nil, &UnreachableError{Branch: i}
		}
		theta := math.Atan2(p.Y, p.X) + b.Solution*math.Acos(k/rho)
		if useHint {
			joints[i] = hint[i] + wrapAngle(theta-hint[i])
		} else {
			joints[i] = wrapAngle(theta)
		}
	}
	return joints, nil
}

// ForwardKinematics solves for the head pose from joint angles, starting at
// the stored seed. A converged result becomes the next seed.
func (s *Solver) ForwardKinematics(joints []float64) (FKResult, error) {
	res, err := s.ForwardKinematicsFrom(joints, s.seed)
	if err == nil && res.Converged {
		s.seed = res.Pose
	}
	return res, err
}

// ForwardKinematicsFrom solves for the head pose starting at seed with a
// damped Gauss-Newton iteration on the rod length errors. It does not touch
// the stored seed. Converged requires both matching rod lengths and a pose
// whose inverse kinematics gives back joints. A result that fails to converge is returned with
// Converged false and a nil error; callers decide whether to trust it.
func (s *Solver) ForwardKinematicsFrom(joints []float64, seed Matrix4) (FKResult, error) {
	n := len(s.branches)
	if n == 0 {
		return FKResult{}, ErrNoBranches
	}
	if len(joints) != n {
		return FKResult{}, fmt.Errorf("%w: got %d, want %d", ErrJointCount, len(joints), n)
	}

	tips := make([]r3.Vec, n)
	for i, b := range s.branches {
		sin, cos := math.Sincos(joints[i])
		tips[i] = b.MotorToWorld.Apply(r3.Vec{X: s.arm * cos, Y: s.arm * sin})
	}

	jac := mat.NewDense(n, 6, nil)
	e := mat.NewVecDense(n, nil)
	var (
		jtj   mat.Dense
		jte   mat.VecDense
		delta mat.VecDense
	)

	cur := seed
	res := FKResult{Pose: cur}
	for iter := 0; ; iter++ {
		res.Pose = cur
		res.Iterations = iter
		res.Residual = s.residuals(cur, tips, jac, e)
		if res.Residual < s.Tolerance {
			res.Converged = s.sameAssembly(cur, joints)
			return res, nil
		}
		if iter >= s.MaxIterations {
			return res, nil
		}

		jtj.Mul(jac.T(), jac)
		for i := 0; i < 6; i++ {
			jtj.Set(i, i, jtj.At(i, i)+damping)
		}
		jte.MulVec(jac.T(), e)
		if err := delta.SolveVec(&jtj, &jte); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
				return res, nil
			}
		}

		dp := r3.Vec{X: delta.AtVec(0), Y: delta.AtVec(1), Z: delta.AtVec(2)}
		w := r3.Vec{X: delta.AtVec(3), Y: delta.AtVec(4), Z: delta.AtVec(5)}
		cur = rotateFrame(cur, axisAngle(w), dp)
		if math.Sqrt(r3.Norm2(dp)+r3.Norm2(w)) < minStep {
			res.Pose = cur
			res.Iterations = iter + 1
			res.Residual = s.residuals(cur, tips, jac, e)
			res.Converged = res.Residual < s.Tolerance && s.sameAssembly(cur, joints)
			return res, nil
		}
	}
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

// sameAssembly reports whether pose maps back to joints through each
// branch's elbow selector. Matching rod lengths alone also accept poses in
// another assembly mode.
func (s *Solver) sameAssembly(pose Matrix4, joints []float64) bool {
	back, err := s.InverseKinematics(pose, joints)
	if err != nil {
		return false
	}
	for i := range joints {
		if math.Abs(back[i]-joints[i]) > assemblyTolerance {
			return false
		}
	}
	return true
}

// residuals fills the rod length errors and their Jacobian for pose and
// returns the largest absolute error. Row k of the Jacobian is [u, r×u]
// where u is the unit rod direction and r the rotated attach point.
func (s *Solver) residuals(pose Matrix4, tips []r3.Vec, jac *mat.Dense, e *mat.VecDense) float64 {
	var worst float64
	pos := pose.Position()
	for k, b := range s.branches {
		r := pose.Rotate(b.Attach)
		d := r3.Sub(r3.Add(r, pos), tips[k])
		length := r3.Norm(d)
		u := r3.Scale(1/length, d)
		c := r3.Cross(r, u)
		jac.SetRow(k, []float64{u.X, u.Y, u.Z, c.X, c.Y, c.Z})

		err := s.rod - length
		e.SetVec(k, err)
		worst = math.Max(worst, math.Abs(err))
	}
	return worst
}

// wrapAngle maps a to (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
