// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"sync/atomic"

	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/renderer"
)

// forEachTile calls fn with the header index of every redraw tile the
// triangle overlaps.
func forEachTile(config *renderer.ConfigUniform, tri *renderer.WorldTriangle, fn func(tile uint32)) {
	lo, hi, ok := config.TileRange(tri.Bounds())
	if !ok {
		return
	}
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				fn(config.TileIndex([3]uint32{x, y, z}))
			}
		}
	}
}

// CoarseCount transforms the update's triangles into world space and counts
// how many of them overlap each tile of the redraw region.
func CoarseCount(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	instances := sliceOf[[]encoding.Instance](resources[1])
	triangles := sliceOf[[][4]float32](resources[2])
	worldTris := sliceOf[[]renderer.WorldTriangle](resources[3])
	headers := sliceOf[[]renderer.TileHeader](resources[4])
	bump := fromBytes[renderer.BumpAllocators](resources[5])

	for i := range uint32(renderer.CoarseWg) {
		ix := wg*renderer.CoarseWg + i
		if ix >= config.NumTriangles {
			return
		}
		if ix >= config.MaxTriCount {
			atomic.AddUint32(&bump.DroppedTriangles, 1)
			atomic.OrUint32(&bump.Failed, renderer.FailedTriangles)
			continue
		}

		inst := &instances[encoding.FindInstance(instances, ix)]
		src := (inst.TriOffset + ix - inst.Base) * 3
		wt := &worldTris[ix]
		wt.A = homogeneous(inst.Transform.Apply(vec(triangles[src])))
		wt.B = homogeneous(inst.Transform.Apply(vec(triangles[src+1])))
		wt.C = homogeneous(inst.Transform.Apply(vec(triangles[src+2])))

		forEachTile(config, wt, func(tile uint32) {
			atomic.AddUint32(&headers[tile].Count, 1)
		})
	}
}

// CoarseAlloc allocates virtual tiles for every redraw tile that has
// triangles. It runs as a single workgroup. Every such tile gets a primary
// virtual tile before any tile gets overflow tiles, so that an exhausted
// budget degrades tiles evenly.
func CoarseAlloc(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	headers := sliceOf[[]renderer.TileHeader](resources[1])
	vts := sliceOf[[]renderer.VirtualTile](resources[2])
	bump := fromBytes[renderer.BumpAllocators](resources[3])
	indirect := fromBytes[renderer.IndirectCount](resources[4])

	maxIDs := config.MaxIDsPerTile
	capacity := config.VirtualTileCapacity
	var n uint32
	alloc := func(tile, k uint32) uint32 {
		h := &headers[tile]
		vts[n] = renderer.VirtualTile{
			Tile:  tile,
			Next:  renderer.NoTile,
			Count: min(maxIDs, h.Count-k*maxIDs),
			Base:  n * maxIDs,
		}
		h.Chain++
		n++
		return n - 1
	}

	numTiles := config.RegionTileCount()
	for i := range numTiles {
		headers[config.TileIndex(config.RegionTile(i))].First = renderer.NoTile
	}
	failed := false
	for i := range numTiles {
		tile := config.TileIndex(config.RegionTile(i))
		if headers[tile].Count == 0 {
			continue
		}
		if n >= capacity {
			failed = true
			break
		}
		headers[tile].First = alloc(tile, 0)
	}
	for i := range numTiles {
		tile := config.TileIndex(config.RegionTile(i))
		h := &headers[tile]
		if h.First == renderer.NoTile {
			continue
		}
		need := (h.Count + maxIDs - 1) / maxIDs
		tail := h.First
		for k := uint32(1); k < need; k++ {
			if n >= capacity {
				failed = true
				break
			}
			next := alloc(tile, k)
			vts[tail].Next = next
			tail = next
		}
	}

	if failed {
		bump.Failed |= renderer.FailedVirtualTiles
	}
	bump.VirtualTiles = n
	*indirect = renderer.IndirectCount{X: n, Y: 1, Z: 1}
}

// CoarseScatter writes each triangle's index into the virtual tiles of every
// redraw tile it overlaps. IDs that don't fit into a tile's chain are
// dropped and counted.
func CoarseScatter(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	worldTris := sliceOf[[]renderer.WorldTriangle](resources[1])
	headers := sliceOf[[]renderer.TileHeader](resources[2])
	vts := sliceOf[[]renderer.VirtualTile](resources[3])
	ids := sliceOf[[]uint32](resources[4])
	bump := fromBytes[renderer.BumpAllocators](resources[5])

	maxIDs := config.MaxIDsPerTile
	numTris := min(config.NumTriangles, config.MaxTriCount)
	for i := range uint32(renderer.CoarseWg) {
		ix := wg*renderer.CoarseWg + i
		if ix >= numTris {
			return
		}
		forEachTile(config, &worldTris[ix], func(tile uint32) {
			h := &headers[tile]
			slot := atomic.AddUint32(&h.Slot, 1) - 1
			k := slot / maxIDs
			if k >= h.Chain {
				atomic.AddUint32(&bump.DroppedIDs, 1)
				return
			}
			vt := h.First
			for range k {
				vt = vts[vt].Next
			}
			ids[vts[vt].Base+slot%maxIDs] = ix
		})
	}
}
