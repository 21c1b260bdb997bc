// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"math"

	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/mem"
)

// emptySeedWord fills seed buffers with seeds whose X is math.MinInt16.
const emptySeedWord = 0x8000_8000

// Resources are the buffers that persist across updates. They are sized for
// all cascades and only reallocated when the number of cascades changes.
type Resources struct {
	limits      Limits
	numCascades int

	// Subvoxel occupancy of every voxel, one bit per subvoxel.
	Seeds BufferProxy
	// Converged nearest seed of every voxel.
	Offsets BufferProxy
	// Distances of every voxel, cascades side by side along x.
	Output BufferProxy
	// Flattened triangles of the triangle store.
	Triangles BufferProxy

	trianglesVersion uint64
	hasTriangles     bool
}

func NewResources(limits Limits) *Resources {
	return &Resources{limits: limits}
}

func (r *Resources) NumCascades() int { return r.numCascades }

// OutputExtent returns the dimensions of the output volume in voxels.
func (r *Resources) OutputExtent() [3]uint32 {
	v := r.limits.VoxelsPerAxis()
	return [3]uint32{v * uint32(r.numCascades), v, v}
}

// Resize records the (re)allocation of the per-cascade volumes for
// numCascades cascades. Volumes start out empty: no seeds and the largest
// representable distance everywhere.
func (r *Resources) Resize(arena *mem.Arena, rec *Recording, numCascades int) {
	if r.numCascades != 0 {
		rec.FreeBuffer(arena, r.Seeds)
		rec.FreeBuffer(arena, r.Offsets)
		rec.FreeBuffer(arena, r.Output)
	}
	r.numCascades = numCascades
	voxels := r.limits.VoxelsPerCascade() * uint32(numCascades)
	r.Seeds = NewTypedBufferProxy(NewBufferSize[uint64](voxels), "seeds")
	r.Offsets = NewTypedBufferProxy(NewBufferSize[Seed](voxels), "seed_offsets")
	r.Output = NewTypedBufferProxy(NewBufferSize[float32](voxels), "sdf_output")

	rec.ClearAll(arena, r.Seeds)
	rec.Fill(arena, r.Offsets, emptySeedWord)
	rec.Fill(arena, r.Output, math.Float32bits(float32(r.limits.VoxelsPerAxis())))
}

// UploadTriangles records an upload of the store's triangles if they changed
// since the last upload and returns the buffer holding them.
func (r *Resources) UploadTriangles(arena *mem.Arena, rec *Recording, store *encoding.TriangleStore) BufferProxy {
	if r.hasTriangles && r.trianglesVersion == store.Version() {
		return r.Triangles
	}
	data := safeish.SliceCast[[]byte](store.Positions())
	size := uint64(max(len(data), 16))
	if !r.hasTriangles || r.Triangles.Size != size {
		if r.hasTriangles {
			rec.FreeBuffer(arena, r.Triangles)
		}
		r.Triangles = NewBufferProxy(size, "triangles")
	}
	rec.UploadTo(arena, r.Triangles, data)
	r.hasTriangles = true
	r.trianglesVersion = store.Version()
	return r.Triangles
}

// Free records the release of every persistent buffer.
func (r *Resources) Free(arena *mem.Arena, rec *Recording) {
	if r.numCascades != 0 {
		rec.FreeBuffer(arena, r.Seeds)
		rec.FreeBuffer(arena, r.Offsets)
		rec.FreeBuffer(arena, r.Output)
		r.numCascades = 0
	}
	if r.hasTriangles {
		rec.FreeBuffer(arena, r.Triangles)
		r.hasTriangles = false
	}
}
