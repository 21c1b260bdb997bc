// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package jmath

import (
	"structs"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"golang.org/x/exp/constraints"
)

const Epsilon = 1e-6

// Transform is an affine 3D transform laid out for upload: a column-major
// 3x3 linear part followed by the translation.
type Transform struct {
	_ structs.HostLayout

	Matrix      [9]float32
	Translation [3]float32
}

var Identity = Transform{
	Matrix: [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
}

func Translation(v ms3.Vec) Transform {
	t := Identity
	t.Translation = [3]float32{v.X, v.Y, v.Z}
	return t
}

func Scaling(v ms3.Vec) Transform {
	return Transform{
		Matrix: [9]float32{v.X, 0, 0, 0, v.Y, 0, 0, 0, v.Z},
	}
}

// Rotation returns a rotation of radians around axis, which doesn't have to
// be normalized.
func Rotation(radians float32, axis ms3.Vec) Transform {
	n := ms3.Norm(axis)
	if n == 0 {
		return Identity
	}
	a := ms3.Scale(1/n, axis)
	s, c := math32.Sincos(radians)
	t := 1 - c
	return Transform{
		Matrix: [9]float32{
			t*a.X*a.X + c, t*a.X*a.Y + s*a.Z, t*a.X*a.Z - s*a.Y,
			t*a.X*a.Y - s*a.Z, t*a.Y*a.Y + c, t*a.Y*a.Z + s*a.X,
			t*a.X*a.Z + s*a.Y, t*a.Y*a.Z - s*a.X, t*a.Z*a.Z + c,
		},
	}
}

// Column returns the i-th column of the linear part.
func (t Transform) Column(i int) ms3.Vec {
	return ms3.Vec{X: t.Matrix[i*3], Y: t.Matrix[i*3+1], Z: t.Matrix[i*3+2]}
}

// Mul returns the transform that applies other first, then t.
func (t Transform) Mul(other Transform) Transform {
	var out Transform
	for col := range 3 {
		v := t.ApplyVector(other.Column(col))
		out.Matrix[col*3+0] = v.X
		out.Matrix[col*3+1] = v.Y
		out.Matrix[col*3+2] = v.Z
	}
	tr := t.Apply(ms3.Vec{X: other.Translation[0], Y: other.Translation[1], Z: other.Translation[2]})
	out.Translation = [3]float32{tr.X, tr.Y, tr.Z}
	return out
}

func (t Transform) ApplyVector(v ms3.Vec) ms3.Vec {
	m := &t.Matrix
	return ms3.Vec{
		X: m[0]*v.X + m[3]*v.Y + m[6]*v.Z,
		Y: m[1]*v.X + m[4]*v.Y + m[7]*v.Z,
		Z: m[2]*v.X + m[5]*v.Y + m[8]*v.Z,
	}
}

func (t Transform) Apply(p ms3.Vec) ms3.Vec {
	v := t.ApplyVector(p)
	v.X += t.Translation[0]
	v.Y += t.Translation[1]
	v.Z += t.Translation[2]
	return v
}

// IVec3 is an integer vector, used for tile and voxel coordinates.
type IVec3 [3]int32

func (a IVec3) Add(b IVec3) IVec3 { return IVec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a IVec3) Sub(b IVec3) IVec3 { return IVec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a IVec3) Mul(s int32) IVec3 { return IVec3{a[0] * s, a[1] * s, a[2] * s} }
func (a IVec3) IsZero() bool      { return a == IVec3{} }

func (a IVec3) Clamp(lo, hi int32) IVec3 {
	return IVec3{Clamp(a[0], lo, hi), Clamp(a[1], lo, hi), Clamp(a[2], lo, hi)}
}

func (a IVec3) Vec() ms3.Vec {
	return ms3.Vec{X: float32(a[0]), Y: float32(a[1]), Z: float32(a[2])}
}

// FloorVec rounds every component of v down.
func FloorVec(v ms3.Vec) IVec3 {
	return IVec3{int32(math32.Floor(v.X)), int32(math32.Floor(v.Y)), int32(math32.Floor(v.Z))}
}

// Comp returns component axis (0, 1, 2) of v.
func Comp(v ms3.Vec, axis int) float32 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func SetComp(v *ms3.Vec, axis int, f float32) {
	switch axis {
	case 0:
		v.X = f
	case 1:
		v.Y = f
	default:
		v.Z = f
	}
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Mod returns the non-negative remainder of a / b, for b > 0.
func Mod[T constraints.Signed](a, b T) T {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func DivCeil[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

func AlignUp(len int, alignment int) int {
	return (len + alignment - 1) & -alignment
}
