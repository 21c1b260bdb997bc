// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"
	"unsafe"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
	"honnef.co/go/scenesdf/mem"
)

type WorkgroupSize [3]uint32

// Number of triangles handled by one workgroup of the coarse stages.
const CoarseWg = 64

type UpdateSchedule struct {
	Frequency uint32 `json:"frequency"`
	Offset    uint32 `json:"offset"`
}

// Due reports whether the schedule refreshes on the given frame.
func (s UpdateSchedule) Due(frame uint64) bool {
	return frame%uint64(s.Frequency) == uint64(s.Offset)
}

type CascadeSettings struct {
	// Half-extent of the cascade's cube, in world units.
	FarDistance    float32        `json:"far_distance"`
	UpdateSchedule UpdateSchedule `json:"update_schedule"`
}

// TileSize returns the edge length of one tile in world units.
func (cs CascadeSettings) TileSize(l Limits) float32 {
	return cs.FarDistance / float32(l.TileDimCount) * 2
}

func (cs CascadeSettings) Validate(index int) error {
	switch {
	case !(cs.FarDistance > 0) || math32.IsInf(cs.FarDistance, 0):
		return errors.New("far distance must be positive and finite").
			WithType(ErrInvalidSettings).
			WithTag("cascade", index).
			WithTag("far_distance", cs.FarDistance)
	case cs.UpdateSchedule.Frequency == 0:
		return errors.New("update frequency must be at least 1").
			WithType(ErrInvalidSettings).
			WithTag("cascade", index)
	case cs.UpdateSchedule.Offset >= cs.UpdateSchedule.Frequency:
		return errors.New("update offset must be less than the frequency").
			WithType(ErrInvalidSettings).
			WithTag("cascade", index).
			WithTag("frequency", cs.UpdateSchedule.Frequency).
			WithTag("offset", cs.UpdateSchedule.Offset)
	}
	return nil
}

// ConfigUniform contains the configuration of one cascade update, used by all
// stages.
type ConfigUniform struct {
	_ structs.HostLayout

	// Tile-space origin of the cascade's window.
	Origin [3]int32
	// Edge length of a tile in world units.
	TileSize float32
	// Redraw region, in window tile coordinates, [RegionMin, RegionMax).
	RegionMin [3]uint32
	Cascade   uint32
	RegionMax [3]uint32
	// Number of cascades sharing the persistent volumes.
	NumCascades uint32

	TileDimCount         uint32
	VoxelsPerTileDim     uint32
	SubvoxelsPerVoxelDim uint32
	MaxIDsPerTile        uint32

	// Number of virtual tiles the virtual tile buffer can hold. This is
	// MaxTiles, or less when fewer can possibly be needed.
	VirtualTileCapacity uint32
	MaxTriCount         uint32
	NumInstances        uint32
	// Number of triangles of all visible instances, before capping.
	NumTriangles uint32
}

func (c *ConfigUniform) VoxelsPerAxis() uint32 { return c.TileDimCount * c.VoxelsPerTileDim }

// VoxelSize returns the edge length of a voxel in world units.
func (c *ConfigUniform) VoxelSize() float32 {
	return c.TileSize / float32(c.VoxelsPerTileDim)
}

// RegionSize returns the size of the redraw region in tiles.
func (c *ConfigUniform) RegionSize() [3]uint32 {
	return [3]uint32{
		c.RegionMax[0] - c.RegionMin[0],
		c.RegionMax[1] - c.RegionMin[1],
		c.RegionMax[2] - c.RegionMin[2],
	}
}

func (c *ConfigUniform) RegionTileCount() uint32 {
	s := c.RegionSize()
	return s[0] * s[1] * s[2]
}

// RegionTile returns the window tile coordinates of the i-th tile of the
// redraw region.
func (c *ConfigUniform) RegionTile(i uint32) [3]uint32 {
	s := c.RegionSize()
	return [3]uint32{
		c.RegionMin[0] + i%s[0],
		c.RegionMin[1] + (i/s[0])%s[1],
		c.RegionMin[2] + i/(s[0]*s[1]),
	}
}

// TileIndex returns the index of a window tile in the tile header buffer.
func (c *ConfigUniform) TileIndex(t [3]uint32) uint32 {
	n := c.TileDimCount
	return t[0] + n*(t[1]+n*t[2])
}

// InRegion reports whether the window voxel v lies in the redraw region.
func (c *ConfigUniform) InRegion(v [3]int32) bool {
	t := int32(c.VoxelsPerTileDim)
	for i := range 3 {
		if v[i] < int32(c.RegionMin[i])*t || v[i] >= int32(c.RegionMax[i])*t {
			return false
		}
	}
	return true
}

// RegionVoxelIndex returns the index of window voxel v, which must lie in the
// redraw region, in buffers sized to the redraw region.
func (c *ConfigUniform) RegionVoxelIndex(v [3]int32) uint32 {
	t := c.VoxelsPerTileDim
	s := c.RegionSize()
	x := uint32(v[0]) - c.RegionMin[0]*t
	y := uint32(v[1]) - c.RegionMin[1]*t
	z := uint32(v[2]) - c.RegionMin[2]*t
	return x + s[0]*t*(y+s[1]*t*z)
}

// PhysicalVoxelIndex maps window voxel v to its slot in the persistent
// per-cascade volumes. Storage is toroidal: scrolling the window reuses the
// slots of the voxels that left it.
func (c *ConfigUniform) PhysicalVoxelIndex(v [3]int32) uint32 {
	vpa := int32(c.VoxelsPerAxis())
	t := int32(c.VoxelsPerTileDim)
	var p [3]uint32
	for i := range 3 {
		p[i] = uint32(jmath.Mod(c.Origin[i]*t+v[i], vpa))
	}
	n := uint32(vpa)
	return c.Cascade*n*n*n + p[0] + n*(p[1]+n*p[2])
}

// OutputVoxelIndex maps window voxel v to its texel in the shared output
// volume, in which cascades are placed side by side along x.
func (c *ConfigUniform) OutputVoxelIndex(v [3]int32) uint32 {
	vpa := int32(c.VoxelsPerAxis())
	t := int32(c.VoxelsPerTileDim)
	var p [3]uint32
	for i := range 3 {
		p[i] = uint32(jmath.Mod(c.Origin[i]*t+v[i], vpa))
	}
	n := uint32(vpa)
	width := n * c.NumCascades
	return c.Cascade*n + p[0] + width*(p[1]+n*p[2])
}

// CascadeConfig is the CPU-side configuration of one cascade update.
type CascadeConfig struct {
	GPU             ConfigUniform
	WorkgroupCounts WorkgroupCounts
	BufferSizes     BufferSizes
}

func NewCascadeConfig(
	arena *mem.Arena,
	limits Limits,
	numCascades int,
	update Update,
	numInstances uint32,
	numTriangles uint32,
) *CascadeConfig {
	lo, hi := update.Region(limits)
	gpu := ConfigUniform{
		Origin:               update.Origin,
		TileSize:             update.TileSize,
		RegionMin:            lo,
		RegionMax:            hi,
		Cascade:              uint32(update.Cascade),
		NumCascades:          uint32(numCascades),
		TileDimCount:         limits.TileDimCount,
		VoxelsPerTileDim:     limits.VoxelsPerTileDim,
		SubvoxelsPerVoxelDim: limits.SubvoxelsPerVoxelDim,
		MaxIDsPerTile:        limits.MaxIDsPerTile,
		MaxTriCount:          limits.MaxTriCount,
		NumInstances:         numInstances,
		NumTriangles:         numTriangles,
	}
	// No tile can hold more than every triangle, so no tile needs more
	// virtual tiles than that.
	regionTiles := gpu.RegionTileCount()
	perTile := max(jmath.DivCeil(min(numTriangles, limits.MaxTriCount), limits.MaxIDsPerTile), 1)
	gpu.VirtualTileCapacity = uint32(min(uint64(limits.MaxTiles), uint64(regionTiles)*uint64(perTile)))

	out := mem.New[CascadeConfig](arena)
	*out = CascadeConfig{
		GPU:             gpu,
		WorkgroupCounts: NewWorkgroupCounts(&gpu),
		BufferSizes:     NewBufferSizes(&gpu),
	}
	return out
}

type WorkgroupCounts struct {
	CoarseCount   WorkgroupSize
	CoarseAlloc   WorkgroupSize
	CoarseScatter WorkgroupSize
	// Note `fine` must use an indirect dispatch
	Blend   WorkgroupSize
	JFAInit WorkgroupSize
	JFA     WorkgroupSize
	Stitch  WorkgroupSize
	Extract WorkgroupSize
}

func NewWorkgroupCounts(config *ConfigUniform) WorkgroupCounts {
	triWgs := jmath.DivCeil(config.NumTriangles, CoarseWg)
	// The region stages run one workgroup per redraw tile.
	regionWgs := config.RegionTileCount()
	return WorkgroupCounts{
		CoarseCount:   WorkgroupSize{triWgs, 1, 1},
		CoarseAlloc:   WorkgroupSize{1, 1, 1},
		CoarseScatter: WorkgroupSize{triWgs, 1, 1},
		Blend:         WorkgroupSize{regionWgs, 1, 1},
		JFAInit:       WorkgroupSize{regionWgs, 1, 1},
		JFA:           WorkgroupSize{regionWgs, 1, 1},
		Stitch:        WorkgroupSize{regionWgs, 1, 1},
		Extract:       WorkgroupSize{regionWgs, 1, 1},
	}
}

type BufferSizes struct {
	Instances      BufferSize[encoding.Instance]
	WorldTriangles BufferSize[WorldTriangle]
	TileHeaders    BufferSize[TileHeader]
	VirtualTiles   BufferSize[VirtualTile]
	TileIDs        BufferSize[uint32]
	FineMasks      BufferSize[uint64]
	Scratch        BufferSize[Seed]
	BumpAlloc      BufferSize[BumpAllocators]
	IndirectCount  BufferSize[IndirectCount]
}

func NewBufferSizes(config *ConfigUniform) BufferSizes {
	vpt := config.VoxelsPerTileDim * config.VoxelsPerTileDim * config.VoxelsPerTileDim
	n := config.TileDimCount
	return BufferSizes{
		Instances:      NewBufferSize[encoding.Instance](config.NumInstances),
		WorldTriangles: NewBufferSize[WorldTriangle](min(config.NumTriangles, config.MaxTriCount)),
		TileHeaders:    NewBufferSize[TileHeader](n * n * n),
		VirtualTiles:   NewBufferSize[VirtualTile](config.VirtualTileCapacity),
		TileIDs:        NewBufferSize[uint32](config.VirtualTileCapacity * config.MaxIDsPerTile),
		FineMasks:      NewBufferSize[uint64](config.VirtualTileCapacity * vpt),
		Scratch:        NewBufferSize[Seed](config.RegionTileCount() * vpt),
		BumpAlloc:      NewBufferSize[BumpAllocators](1),
		IndirectCount:  NewBufferSize[IndirectCount](1),
	}
}

// BumpAllocators holds the atomic counters of an update. They double as the
// capacity report that is read back after the update completes.
type BumpAllocators struct {
	_ structs.HostLayout

	// Set when a budget was exhausted.
	Failed uint32
	// Number of virtual tiles allocated.
	VirtualTiles uint32
	// Number of triangles beyond MaxTriCount.
	DroppedTriangles uint32
	// Number of triangle IDs that found no room in any virtual tile.
	DroppedIDs uint32
}

const (
	FailedTriangles    = 1 << 0
	FailedVirtualTiles = 1 << 1
)

type BufferSize[T any] uint32

func NewBufferSize[T any](x uint32) BufferSize[T] {
	return BufferSize[T](max(x, 1))
}

func (s BufferSize[T]) Len() uint32 { return uint32(s) }

func (s BufferSize[T]) SizeInBytes() uint64 {
	return uint64(s) * uint64(unsafe.Sizeof(*new(T)))
}

// IndirectCount stores indirect dispatch size values.
type IndirectCount struct {
	_ structs.HostLayout

	X uint32
	Y uint32
	Z uint32
	_ uint32 // padding
}
