// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf/jmath"
)

// OBB is an oriented bounding box. Axes are scaled by the box's half
// extents.
type OBB struct {
	Center ms3.Vec
	Axes   [3]ms3.Vec
}

// NewOBB transforms a local axis-aligned box into world space.
func NewOBB(local ms3.Box, t jmath.Transform) OBB {
	h := ms3.Scale(0.5, local.Size())
	return OBB{
		Center: t.Apply(local.Center()),
		Axes: [3]ms3.Vec{
			t.ApplyVector(ms3.Vec{X: h.X}),
			t.ApplyVector(ms3.Vec{Y: h.Y}),
			t.ApplyVector(ms3.Vec{Z: h.Z}),
		},
	}
}

// Radius returns the extent of the box projected onto normal n.
func (o *OBB) Radius(n ms3.Vec) float32 {
	return math32.Abs(ms3.Dot(n, o.Axes[0])) +
		math32.Abs(ms3.Dot(n, o.Axes[1])) +
		math32.Abs(ms3.Dot(n, o.Axes[2]))
}

// Bounds returns the world-space axis-aligned box enclosing o.
func (o *OBB) Bounds() ms3.Box {
	r := ms3.Vec{
		X: o.Radius(ms3.Vec{X: 1}),
		Y: o.Radius(ms3.Vec{Y: 1}),
		Z: o.Radius(ms3.Vec{Z: 1}),
	}
	return ms3.Box{Min: ms3.Sub(o.Center, r), Max: ms3.Add(o.Center, r)}
}

// Intersects tests o against the six face planes of clip. The box is
// excluded if it lies entirely outside any one of them.
func (o *OBB) Intersects(clip ms3.Box) bool {
	for i := range 3 {
		var n ms3.Vec
		jmath.SetComp(&n, i, 1)
		c := jmath.Comp(o.Center, i)
		r := o.Radius(n)
		// Face planes with normals +n and -n.
		if c-r > jmath.Comp(clip.Max, i) {
			return false
		}
		if -c-r > -jmath.Comp(clip.Min, i) {
			return false
		}
	}
	return true
}

// Cull appends to dst the indices of the boxes that intersect any of the
// clip boxes. Nothing is visible without clip boxes.
func Cull(dst []int, obbs []OBB, clips []ms3.Box) []int {
	if len(clips) == 0 {
		return dst
	}
	for i := range obbs {
		for _, clip := range clips {
			if obbs[i].Intersects(clip) {
				dst = append(dst, i)
				break
			}
		}
	}
	return dst
}
