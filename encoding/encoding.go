// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package encoding holds the scene data consumed by the pipeline: the
// flattened triangles of all meshes and the per-update list of visible
// instances.
package encoding

import (
	"structs"

	"honnef.co/go/scenesdf/jmath"
)

// Instance places a mesh's triangles in the world for one update.
type Instance struct {
	_ structs.HostLayout

	Transform jmath.Transform
	// Span of the mesh in the triangle store.
	TriOffset uint32
	TriCount  uint32
	// Index of the instance's first triangle among all triangles of the
	// update.
	Base uint32
	_    uint32
}

// Encoding is the list of instances visible to one cascade update.
type Encoding struct {
	Instances    []Instance
	NumTriangles uint32
}

func (enc *Encoding) IsEmpty() bool {
	return enc.NumTriangles == 0
}

func (enc *Encoding) Reset() {
	enc.Instances = enc.Instances[:0]
	enc.NumTriangles = 0
}

// EncodeInstance appends an instance of the mesh stored at span. Empty
// meshes are skipped.
func (enc *Encoding) EncodeInstance(transform jmath.Transform, span Span) {
	if span.Count == 0 {
		return
	}
	enc.Instances = append(enc.Instances, Instance{
		Transform: transform,
		TriOffset: span.Offset,
		TriCount:  span.Count,
		Base:      enc.NumTriangles,
	})
	enc.NumTriangles += span.Count
}

// Append appends the instances of other, with transform applied on top of
// theirs.
func (enc *Encoding) Append(other *Encoding, transform jmath.Transform) {
	for _, inst := range other.Instances {
		t := inst.Transform
		if transform != jmath.Identity {
			t = transform.Mul(t)
		}
		enc.EncodeInstance(t, Span{Offset: inst.TriOffset, Count: inst.TriCount})
	}
}

// FindInstance returns the index of the instance containing the update's
// triangle tri. Instances are sorted by Base.
func FindInstance(instances []Instance, tri uint32) int {
	lo, hi := 0, len(instances)
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if instances[mid].Base <= tri {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
