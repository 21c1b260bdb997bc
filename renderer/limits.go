// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrInvalidLimits   = "invalid_limits"
	ErrInvalidSettings = "invalid_settings"
)

// MaxVoxelsPerAxis bounds the voxel grid of a single cascade along one axis.
// Seed offsets are stored as int16 in half-subvoxel units, which this keeps
// well within range.
const MaxVoxelsPerAxis = 128

// Limits are the capacity constants of a pipeline. They determine the memory
// footprint of every buffer and are fixed for the lifetime of a pipeline.
type Limits struct {
	// Number of tiles along each axis of a cascade's window.
	TileDimCount uint32
	// Number of voxels along each axis of a tile.
	VoxelsPerTileDim uint32
	// Number of subvoxels along each axis of a voxel, 1 to 4.
	SubvoxelsPerVoxelDim uint32
	// Number of triangle IDs a single (virtual) tile can hold.
	MaxIDsPerTile uint32
	// Number of virtual tiles, primary and overflow, per update.
	MaxTiles uint32
	// Number of triangles the store holds and the coarse stage bins.
	MaxTriCount uint32
	// Number of step-1 propagation passes run after the jump flood.
	StitchPasses uint32
}

func DefaultLimits() Limits {
	return Limits{
		TileDimCount:         16,
		VoxelsPerTileDim:     8,
		SubvoxelsPerVoxelDim: 4,
		MaxIDsPerTile:        512,
		MaxTiles:             16 * 16 * 16 * 16,
		MaxTriCount:          1 << 20,
		StitchPasses:         2,
	}
}

func (l Limits) Validate() error {
	invalid := func(field string, v uint32) error {
		return errors.New("invalid pipeline limits").
			WithType(ErrInvalidLimits).
			WithTag("field", field).
			WithTag("value", v)
	}
	switch {
	case l.TileDimCount == 0:
		return invalid("tile_dim_count", l.TileDimCount)
	case l.VoxelsPerTileDim == 0:
		return invalid("voxels_per_tile_dim", l.VoxelsPerTileDim)
	case l.SubvoxelsPerVoxelDim == 0 || l.SubvoxelsPerVoxelDim > 4:
		return invalid("subvoxels_per_voxel_dim", l.SubvoxelsPerVoxelDim)
	case uint64(l.TileDimCount)*uint64(l.VoxelsPerTileDim) > MaxVoxelsPerAxis:
		return invalid("voxels_per_axis", l.TileDimCount*l.VoxelsPerTileDim)
	case l.MaxIDsPerTile == 0:
		return invalid("max_ids_per_tile", l.MaxIDsPerTile)
	case l.MaxTiles == 0:
		return invalid("max_tiles", l.MaxTiles)
	case l.MaxTriCount == 0:
		return invalid("max_tri_count", l.MaxTriCount)
	case l.StitchPasses == 0:
		return invalid("stitch_passes", l.StitchPasses)
	}
	return nil
}

// VoxelsPerAxis returns the number of voxels along one axis of a cascade.
func (l Limits) VoxelsPerAxis() uint32 { return l.TileDimCount * l.VoxelsPerTileDim }

// VoxelsPerCascade returns the number of voxels in one cascade.
func (l Limits) VoxelsPerCascade() uint32 {
	v := l.VoxelsPerAxis()
	return v * v * v
}

func (l Limits) TileCount() uint32 {
	n := l.TileDimCount
	return n * n * n
}

func (l Limits) VoxelsPerTile() uint32 {
	t := l.VoxelsPerTileDim
	return t * t * t
}

// JumpSteps returns the step sizes of the jump flood passes, largest first.
// The largest step is the smallest power of two that is at least half the
// number of voxels along an axis.
func (l Limits) JumpSteps() []uint32 {
	half := max(l.VoxelsPerAxis()/2, 1)
	step := uint32(1)
	for step < half {
		step *= 2
	}
	var out []uint32
	for ; step > 0; step /= 2 {
		out = append(out, step)
	}
	return out
}
