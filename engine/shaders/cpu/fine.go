// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf/renderer"
)

// closestPoint returns the point of triangle abc closest to p.
//
// See Ericson, Real-Time Collision Detection, 5.1.5.
func closestPoint(p, a, b, c ms3.Vec) ms3.Vec {
	ab := ms3.Sub(b, a)
	ac := ms3.Sub(c, a)
	ap := ms3.Sub(p, a)
	d1 := ms3.Dot(ab, ap)
	d2 := ms3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := ms3.Sub(p, b)
	d3 := ms3.Dot(ab, bp)
	d4 := ms3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return ms3.Add(a, ms3.Scale(v, ab))
	}

	cp := ms3.Sub(p, c)
	d5 := ms3.Dot(ab, cp)
	d6 := ms3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return ms3.Add(a, ms3.Scale(w, ac))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return ms3.Add(b, ms3.Scale(w, ms3.Sub(c, b)))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return ms3.Add(a, ms3.Add(ms3.Scale(v, ab), ms3.Scale(w, ac)))
}

// Fine rasterizes the triangles of one virtual tile into subvoxel occupancy
// masks. A subvoxel is occupied if its center lies within half a subvoxel
// diagonal of a triangle. Triangles only ever set bits, which makes the
// result independent of the order in which they are processed.
func Fine(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	worldTris := sliceOf[[]renderer.WorldTriangle](resources[1])
	vts := sliceOf[[]renderer.VirtualTile](resources[2])
	ids := sliceOf[[]uint32](resources[3])
	masks := sliceOf[[]uint64](resources[4])

	vt := &vts[wg]
	t := int32(config.VoxelsPerTileDim)
	s := config.SubvoxelsPerVoxelDim
	sub := 1 / float32(s)
	r := config.SampleRadius()
	r2 := r * r
	origin := config.TileMin(windowTile(config, vt.Tile))
	scale := 1 / config.VoxelSize()
	local := func(p [4]float32) ms3.Vec {
		return ms3.Scale(scale, ms3.Sub(vec(p), origin))
	}
	out := masks[wg*config.VoxelsPerTileDim*config.VoxelsPerTileDim*config.VoxelsPerTileDim:]

	for _, ix := range ids[vt.Base : vt.Base+vt.Count] {
		tri := &worldTris[ix]
		a, b, c := local(tri.A), local(tri.B), local(tri.C)
		lo := ms3.AddScalar(-r, ms3.MinElem(a, ms3.MinElem(b, c)))
		hi := ms3.AddScalar(r, ms3.MaxElem(a, ms3.MaxElem(b, c)))
		vlo := [3]int32{
			max(int32(math32.Floor(lo.X)), 0),
			max(int32(math32.Floor(lo.Y)), 0),
			max(int32(math32.Floor(lo.Z)), 0),
		}
		vhi := [3]int32{
			min(int32(math32.Floor(hi.X))+1, t),
			min(int32(math32.Floor(hi.Y))+1, t),
			min(int32(math32.Floor(hi.Z))+1, t),
		}

		for z := vlo[2]; z < vhi[2]; z++ {
			for y := vlo[1]; y < vhi[1]; y++ {
				for x := vlo[0]; x < vhi[0]; x++ {
					var bits uint64
					var bit uint
					for sz := range s {
						for sy := range s {
							for sx := range s {
								p := ms3.Vec{
									X: float32(x) + (float32(sx)+0.5)*sub,
									Y: float32(y) + (float32(sy)+0.5)*sub,
									Z: float32(z) + (float32(sz)+0.5)*sub,
								}
								if distance2(p, closestPoint(p, a, b, c)) <= r2 {
									bits |= 1 << bit
								}
								bit++
							}
						}
					}
					out[x+t*(y+t*z)] |= bits
				}
			}
		}
	}
}

// Blend composites the masks of all virtual tiles of a redraw tile into the
// persistent seed volume. Voxels of tiles without triangles become empty.
func Blend(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	headers := sliceOf[[]renderer.TileHeader](resources[1])
	vts := sliceOf[[]renderer.VirtualTile](resources[2])
	masks := sliceOf[[]uint64](resources[3])
	seeds := sliceOf[[]uint64](resources[4])

	tile := config.RegionTile(wg)
	h := &headers[config.TileIndex(tile)]
	vpt := config.VoxelsPerTileDim * config.VoxelsPerTileDim * config.VoxelsPerTileDim
	tileVoxels(config, tile, func(local uint32, v [3]int32) {
		var m uint64
		for vt := h.First; vt != renderer.NoTile; vt = vts[vt].Next {
			m |= masks[vt*vpt+local]
		}
		seeds[config.PhysicalVoxelIndex(v)] = m
	})
}
