// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/mem"
)

func TestLimitsValidate(t *testing.T) {
	require.NoError(t, DefaultLimits().Validate())

	tests := []struct {
		name   string
		modify func(*Limits)
	}{
		{"no tiles", func(l *Limits) { l.TileDimCount = 0 }},
		{"no voxels", func(l *Limits) { l.VoxelsPerTileDim = 0 }},
		{"too many subvoxels", func(l *Limits) { l.SubvoxelsPerVoxelDim = 5 }},
		{"too many voxels", func(l *Limits) { l.TileDimCount = 32 }},
		{"no ids", func(l *Limits) { l.MaxIDsPerTile = 0 }},
		{"no virtual tiles", func(l *Limits) { l.MaxTiles = 0 }},
		{"no triangles", func(l *Limits) { l.MaxTriCount = 0 }},
		{"no stitching", func(l *Limits) { l.StitchPasses = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := DefaultLimits()
			test.modify(&l)
			err := l.Validate()
			require.Error(t, err)
			require.Equal(t, ErrInvalidLimits, errors.Type(err))
		})
	}
}

func TestCascadeSettingsValidate(t *testing.T) {
	require.NoError(t, every(15, 14, 60).Validate(0))
	require.Error(t, every(1, 0, 0).Validate(0))
	require.Error(t, every(1, 0, -1).Validate(0))
	require.Error(t, every(0, 0, 1).Validate(0))
	err := every(3, 3, 1).Validate(2)
	require.Error(t, err)
	require.Equal(t, ErrInvalidSettings, errors.Type(err))
}

func TestJumpSteps(t *testing.T) {
	l := DefaultLimits()
	require.Equal(t, []uint32{64, 32, 16, 8, 4, 2, 1}, l.JumpSteps())

	l.TileDimCount, l.VoxelsPerTileDim = 4, 4
	require.Equal(t, []uint32{8, 4, 2, 1}, l.JumpSteps())

	l.TileDimCount, l.VoxelsPerTileDim = 3, 4
	require.Equal(t, []uint32{8, 4, 2, 1}, l.JumpSteps())

	l.TileDimCount, l.VoxelsPerTileDim = 1, 1
	require.Equal(t, []uint32{1}, l.JumpSteps())
}

func TestVirtualTileCapacity(t *testing.T) {
	arena := mem.NewArena()
	l := DefaultLimits()
	u := Update{Redraw: [3]int32{1, 0, 0}, TileSize: 1}
	cfg := NewCascadeConfig(arena, l, 1, u, 1, 100)
	// One slab of 256 tiles, each needing at most one virtual tile.
	require.Equal(t, uint32(256), cfg.GPU.VirtualTileCapacity)
	require.Equal(t, uint32(256), cfg.GPU.RegionTileCount())
	require.Equal(t, [3]uint32{15, 0, 0}, cfg.GPU.RegionMin)

	cfg = NewCascadeConfig(arena, l, 1, u, 1, 2000)
	require.Equal(t, uint32(256*4), cfg.GPU.VirtualTileCapacity)

	l.MaxTiles = 300
	cfg = NewCascadeConfig(arena, l, 1, u, 1, 2000)
	require.Equal(t, uint32(300), cfg.GPU.VirtualTileCapacity)
}

func TestStats(t *testing.T) {
	var s Stats
	_, ok := s.Get("fine")
	require.False(t, ok)

	s.Add("fine", 10*time.Millisecond)
	s.Add("blend", time.Millisecond)
	s.Add("fine", 20*time.Millisecond)

	fine, ok := s.Get("fine")
	require.True(t, ok)
	require.Equal(t, uint64(2), fine.Samples)
	require.Equal(t, 20*time.Millisecond, fine.Max)
	require.InDelta(t, float64(11*time.Millisecond), float64(fine.Avg), float64(time.Microsecond))

	var labels []string
	for label := range s.All() {
		labels = append(labels, label)
	}
	require.Equal(t, []string{"fine", "blend"}, labels)
}
