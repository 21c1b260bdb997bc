// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"math"
	"structs"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf/jmath"
)

// NoTile marks the end of a virtual tile chain.
const NoTile = ^uint32(0)

// TileHeader is the coarse stage's per-tile state for one update.
type TileHeader struct {
	_ structs.HostLayout

	// Number of triangles overlapping the tile.
	Count uint32
	// Next free slot, incremented while scattering triangle IDs.
	Slot uint32
	// First virtual tile of the tile's chain, or NoTile.
	First uint32
	// Number of virtual tiles in the chain.
	Chain uint32
}

// VirtualTile holds up to MaxIDsPerTile triangle IDs of one tile. Tiles with
// more triangles than that get a chain of virtual tiles sharing their
// coordinates.
type VirtualTile struct {
	_ structs.HostLayout

	// Index of the tile in the tile header buffer.
	Tile uint32
	// Next virtual tile of the same tile, or NoTile.
	Next uint32
	// Number of IDs stored in this virtual tile.
	Count uint32
	// Offset of the first ID in the ID buffer.
	Base uint32
}

// WorldTriangle is a triangle in world space, with homogeneous vertices.
type WorldTriangle struct {
	_ structs.HostLayout

	A, B, C [4]float32
}

func (t *WorldTriangle) Vertices() (a, b, c ms3.Vec) {
	return ms3.Vec{X: t.A[0], Y: t.A[1], Z: t.A[2]},
		ms3.Vec{X: t.B[0], Y: t.B[1], Z: t.B[2]},
		ms3.Vec{X: t.C[0], Y: t.C[1], Z: t.C[2]}
}

func (t *WorldTriangle) Bounds() ms3.Box {
	a, b, c := t.Vertices()
	return ms3.Box{
		Min: ms3.MinElem(a, ms3.MinElem(b, c)),
		Max: ms3.MaxElem(a, ms3.MaxElem(b, c)),
	}
}

// Seed is the position of the nearest known surface sample of a voxel,
// relative to the voxel's minimum corner, in half-subvoxel units. Subvoxel
// centers thus have odd coordinates and the voxel's center lies at
// (S, S, S) for S subvoxels per voxel dimension.
type Seed struct {
	_ structs.HostLayout

	X, Y, Z int16
	_       int16
}

// EmptySeed marks voxels without a known surface sample.
var EmptySeed = Seed{X: math.MinInt16}

// Half the diagonal of a unit cube.
const voxelHalfDiagonal = 0.8660254

func (s Seed) Empty() bool { return s.X == math.MinInt16 }

// Rebase returns the seed of a neighbor d voxels away, expressed relative to
// the voxel the neighbor is being compared against.
func (s Seed) Rebase(d [3]int32, subvoxels uint32) Seed {
	if s.Empty() {
		return s
	}
	k := int32(2 * subvoxels)
	return Seed{
		X: int16(int32(s.X) + d[0]*k),
		Y: int16(int32(s.Y) + d[1]*k),
		Z: int16(int32(s.Z) + d[2]*k),
	}
}

// DistanceSquared returns the squared distance from the voxel's center to
// the seed, in half-subvoxel units. Empty seeds are infinitely far away.
func (s Seed) DistanceSquared(subvoxels uint32) int64 {
	if s.Empty() {
		return math.MaxInt64
	}
	c := int64(subvoxels)
	dx := int64(s.X) - c
	dy := int64(s.Y) - c
	dz := int64(s.Z) - c
	return dx*dx + dy*dy + dz*dz
}

// Distance returns the signed distance from the voxel's center to the surface
// the seed samples, in voxel units. Voxels that contain surface are inside
// and get a negative distance: the seed's offset from the center minus half
// the voxel's diagonal. Other voxels get the distance to the near face of the
// seed's subvoxel, which is at least half a voxel.
func (s Seed) Distance(subvoxels uint32, occupied bool) float32 {
	d := math32.Sqrt(float32(s.DistanceSquared(subvoxels))) / float32(2*subvoxels)
	if occupied {
		return min(d-voxelHalfDiagonal, 0)
	}
	return max(d-0.5/float32(subvoxels), 0)
}

// CascadeHeader tells consumers how to map world positions into a cascade's
// part of the output volume.
type CascadeHeader struct {
	_ structs.HostLayout

	Index uint32 `json:"index"`
	// Tile-space origin of the cascade's window.
	Origin   [3]int32 `json:"origin"`
	TileSize float32  `json:"tile_size"`
	// Edge length of a voxel in world units.
	VoxelSize float32 `json:"voxel_size"`
	// Zero until the cascade has been drawn once.
	Valid uint32 `json:"valid"`
	_     uint32
}

// Bounds returns the world-space extent of the cascade's window.
func (h CascadeHeader) Bounds(l Limits) ms3.Box {
	n := float32(l.TileDimCount)
	min := ms3.Scale(h.TileSize, ms3.Vec{X: float32(h.Origin[0]), Y: float32(h.Origin[1]), Z: float32(h.Origin[2])})
	return ms3.Box{
		Min: min,
		Max: ms3.AddScalar(n*h.TileSize, min),
	}
}

// SampleRadius returns the distance, in voxel units, within which a triangle
// marks a subvoxel as occupied: half a subvoxel's diagonal.
func (c *ConfigUniform) SampleRadius() float32 {
	return 0.5 * math32.Sqrt(3) / float32(c.SubvoxelsPerVoxelDim)
}

// TileRange returns the tiles of the redraw region, [lo, hi) in window
// coordinates, that box overlaps once padded by the sample radius.
func (c *ConfigUniform) TileRange(box ms3.Box) (lo, hi [3]uint32, ok bool) {
	pad := c.SampleRadius() * c.VoxelSize()
	for i := range 3 {
		min := int64(math32.Floor((jmath.Comp(box.Min, i)-pad)/c.TileSize)) - int64(c.Origin[i])
		max := int64(math32.Floor((jmath.Comp(box.Max, i)+pad)/c.TileSize)) - int64(c.Origin[i]) + 1
		min = jmath.Clamp(min, int64(c.RegionMin[i]), int64(c.RegionMax[i]))
		max = jmath.Clamp(max, int64(c.RegionMin[i]), int64(c.RegionMax[i]))
		if min >= max {
			return lo, hi, false
		}
		lo[i] = uint32(min)
		hi[i] = uint32(max)
	}
	return lo, hi, true
}

// TileMin returns the world-space minimum corner of window tile t.
func (c *ConfigUniform) TileMin(t [3]uint32) ms3.Vec {
	return ms3.Vec{
		X: float32(c.Origin[0]+int32(t[0])) * c.TileSize,
		Y: float32(c.Origin[1]+int32(t[1])) * c.TileSize,
		Z: float32(c.Origin[2]+int32(t[2])) * c.TileSize,
	}
}
