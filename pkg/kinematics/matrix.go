// Package kinematics solves the parallel linkage that carries the head plate:
// rigid transforms, Euler angle conversion, closed form inverse kinematics and
// iterative forward kinematics.
package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Matrix4 is a homogeneous rigid transform, indexed [row][col].
type Matrix4 [4][4]float64

// Identity returns the identity transform.
func Identity() Matrix4 {
	return Matrix4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation returns a pure translation.
func Translation(x, y, z float64) Matrix4 {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = x, y, z
	return m
}

// Mul returns m·n.
func (m Matrix4) Mul(n Matrix4) Matrix4 {
	var out Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[i][k] * n[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// Apply transforms the point v.
func (m Matrix4) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z + m[0][3],
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z + m[1][3],
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z + m[2][3],
	}
}

// Rotate applies only the rotation part of m to v.
func (m Matrix4) Rotate(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Position returns the translation part of m.
func (m Matrix4) Position() r3.Vec {
	return r3.Vec{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

// Inverse returns the inverse of m. It works for any invertible matrix, not
// only rigid transforms.
func (m Matrix4) Inverse() (Matrix4, error) {
	flat := make([]float64, 0, 16)
	for _, row := range m {
		flat = append(flat, row[:]...)
	}
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, flat)); err != nil {
		return Matrix4{}, fmt.Errorf("invert transform: %w", err)
	}
	var out Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// ApproxEqual reports whether every element of m and n differs by at most tol.
func (m Matrix4) ApproxEqual(n Matrix4, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(m[i][j]-n[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// rotationMatrix converts a rotation to a transform without translation.
func rotationMatrix(rot r3.Rotation) Matrix4 {
	cols := [3]r3.Vec{
		rot.Rotate(r3.Vec{X: 1}),
		rot.Rotate(r3.Vec{Y: 1}),
		rot.Rotate(r3.Vec{Z: 1}),
	}
	m := Identity()
	for j, c := range cols {
		m[0][j], m[1][j], m[2][j] = c.X, c.Y, c.Z
	}
	return m
}

// axisAngle returns the rotation by |w| radians about w.
func axisAngle(w r3.Vec) Matrix4 {
	angle := r3.Norm(w)
	if angle < 1e-15 {
		return Identity()
	}
	return rotationMatrix(r3.NewRotation(angle, w))
}

// rotateFrame left-multiplies the rotation of m by rot and shifts its
// position by dp.
func rotateFrame(m Matrix4, rot Matrix4, dp r3.Vec) Matrix4 {
	p := m.Position()
	m[0][3], m[1][3], m[2][3] = 0, 0, 0
	out := rot.Mul(m)
	out[0][3], out[1][3], out[2][3] = p.X+dp.X, p.Y+dp.Y, p.Z+dp.Z
	return out
}
