// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides CPU implementations of the compute shaders.
//
// Kernels are called once per workgroup, possibly concurrently for different
// workgroups of the same dispatch. They mirror what a GPU implementation
// would do: workgroups only share memory through atomics or through disjoint
// writes.
package cpu

import (
	"fmt"
	"unsafe"

	"github.com/soypat/geometry/ms3"
	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf/renderer"
)

type CPUBinding interface {
	// One of CPUBuffer
}

type CPUBuffer []byte

// Kernel runs workgroup wg of a dispatch.
type Kernel func(wg uint32, resources []CPUBinding)

func fromBytes[E any, T *E](b CPUBinding) T {
	buf := b.(CPUBuffer)
	if uintptr(len(buf)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(buf), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&buf[0])
}

func sliceOf[S ~[]E, E any](b CPUBinding) S {
	return safeish.SliceCast[S](b.(CPUBuffer))
}

// tileVoxels calls fn for every voxel of window tile t, with the voxel's
// index within the tile and its window coordinates.
func tileVoxels(config *renderer.ConfigUniform, t [3]uint32, fn func(local uint32, v [3]int32)) {
	n := config.VoxelsPerTileDim
	base := [3]int32{int32(t[0] * n), int32(t[1] * n), int32(t[2] * n)}
	var local uint32
	for z := range int32(n) {
		for y := range int32(n) {
			for x := range int32(n) {
				fn(local, [3]int32{base[0] + x, base[1] + y, base[2] + z})
				local++
			}
		}
	}
}

// windowTile returns the window coordinates of the tile with the given index
// in the tile header buffer.
func windowTile(config *renderer.ConfigUniform, idx uint32) [3]uint32 {
	n := config.TileDimCount
	return [3]uint32{idx % n, (idx / n) % n, idx / (n * n)}
}

func vec(v [4]float32) ms3.Vec { return ms3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func homogeneous(v ms3.Vec) [4]float32 { return [4]float32{v.X, v.Y, v.Z, 1} }

func distance2(a, b ms3.Vec) float32 {
	d := ms3.Sub(a, b)
	return ms3.Dot(d, d)
}
