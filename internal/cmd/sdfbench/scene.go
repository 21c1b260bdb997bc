// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
)

// Half extent of the ground plane and of the area objects are scattered in.
const groundSize = 40

var cubeIndices = []uint32{
	0, 2, 1, 0, 3, 2, // -z
	4, 5, 6, 4, 6, 7, // +z
	0, 1, 5, 0, 5, 4, // -y
	3, 7, 6, 3, 6, 2, // +y
	0, 4, 7, 0, 7, 3, // -x
	1, 2, 6, 1, 6, 5, // +x
}

// cube returns the vertices of the unit cube centered on the origin.
func cube() []ms3.Vec {
	out := make([]ms3.Vec, 8)
	for i := range out {
		out[i] = ms3.Vec{
			X: float32(i&1^(i>>1)&1) - 0.5,
			Y: float32((i>>1)&1) - 0.5,
			Z: float32((i>>2)&1) - 0.5,
		}
	}
	return out
}

// tetrahedron returns a regular tetrahedron with unit circumradius.
func tetrahedron() ([]ms3.Vec, []uint32) {
	s := 1 / math32.Sqrt(3)
	return []ms3.Vec{
			{X: s, Y: s, Z: s},
			{X: s, Y: -s, Z: -s},
			{X: -s, Y: s, Z: -s},
			{X: -s, Y: -s, Z: s},
		}, []uint32{
			0, 1, 2,
			0, 3, 1,
			0, 2, 3,
			1, 3, 2,
		}
}

// populate fills scene with a ground plane and n randomly placed boxes and
// tetrahedra. Every other object is marked.
func populate(scene *scenesdf.Scene, n int, seed int) error {
	ground := encoding.NewMeshID()
	if _, err := scene.SetMesh(ground, []ms3.Vec{
		{X: -groundSize, Y: -groundSize}, {X: groundSize, Y: -groundSize}, {X: groundSize, Y: groundSize},
		{X: -groundSize, Y: -groundSize}, {X: groundSize, Y: groundSize}, {X: -groundSize, Y: groundSize},
	}, nil); err != nil {
		return err
	}
	scene.AddObject(scenesdf.Object{Mesh: ground, Transform: jmath.Identity, Marked: true})

	box := encoding.NewMeshID()
	if _, err := scene.SetMesh(box, cube(), cubeIndices); err != nil {
		return err
	}
	tet := encoding.NewMeshID()
	tetPositions, tetIndices := tetrahedron()
	if _, err := scene.SetMesh(tet, tetPositions, tetIndices); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	uniform := func(lo, hi float32) float32 { return lo + (hi-lo)*rng.Float32() }
	for i := range n {
		mesh := box
		if i%3 == 2 {
			mesh = tet
		}
		size := ms3.Vec{X: uniform(0.5, 4), Y: uniform(0.5, 4), Z: uniform(0.5, 6)}
		pos := ms3.Vec{
			X: uniform(-groundSize, groundSize),
			Y: uniform(-groundSize, groundSize),
			Z: size.Z / 2,
		}
		rot := jmath.Rotation(uniform(0, 2*math32.Pi), ms3.Vec{X: uniform(-0.2, 0.2), Y: uniform(-0.2, 0.2), Z: 1})
		scene.AddObject(scenesdf.Object{
			Mesh:      mesh,
			Transform: jmath.Translation(pos).Mul(rot).Mul(jmath.Scaling(size)),
			Marked:    i%2 == 0,
		})
	}
	return nil
}
