// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"testing"

	"github.com/soypat/geometry/ms3"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
	"honnef.co/go/scenesdf/mem"
	"honnef.co/go/scenesdf/profiler"
)

func testShaders() *FullShaders {
	return &FullShaders{
		CoarseCount:   0,
		CoarseAlloc:   1,
		CoarseScatter: 2,
		Fine:          3,
		Blend:         4,
		JFAInit:       5,
		JFA:           6,
		Stitch:        7,
		Extract:       8,
	}
}

func countCommands[T any](rec *Recording) int {
	n := 0
	for _, cmd := range rec.Commands {
		if _, ok := any(cmd).(*T); ok {
			n++
		}
	}
	return n
}

func TestRecordCascadeUpdate(t *testing.T) {
	arena := mem.NewArena()
	l := DefaultLimits()
	l.TileDimCount, l.VoxelsPerTileDim = 4, 4
	l.StitchPasses = 2

	store := encoding.NewTriangleStore(16)
	mesh := encoding.NewMeshID()
	_, err := store.Set(mesh, []ms3.Vec{{}, {X: 1}, {Y: 1}}, nil)
	require.NoError(t, err)
	span, _ := store.Span(mesh)
	var enc encoding.Encoding
	enc.EncodeInstance(jmath.Identity, span)

	res := NewResources(l)
	res.Resize(arena, &Recording{}, 2)
	require.Equal(t, [3]uint32{32, 16, 16}, res.OutputExtent())

	u := Update{Cascade: 1, Redraw: jmath.IVec3{4, 0, 0}, TileSize: 1}
	cfg := NewCascadeConfig(arena, l, 2, u, uint32(len(enc.Instances)), enc.NumTriangles)
	out := RecordCascadeUpdate(arena, res, testShaders(), cfg, &enc, store, profiler.Nop{})

	fs := testShaders()
	want := []ShaderID{fs.CoarseCount, fs.CoarseAlloc, fs.CoarseScatter, fs.Fine, fs.Blend, fs.JFAInit}
	for range l.JumpSteps() {
		want = append(want, fs.JFA)
	}
	want = append(want, fs.Stitch, fs.Stitch, fs.Extract)
	require.Equal(t, want, out.Recording.Shaders(arena))
	require.Equal(t, 1, countCommands[DispatchIndirect](out.Recording))
	require.Equal(t, 1, countCommands[Download](out.Recording))
	require.Equal(t, "bump_allocators", out.Bump.Name)

	// Every transient buffer is freed; the persistent volumes are not.
	freed := map[ResourceID]bool{}
	for _, cmd := range out.Recording.Commands {
		if f, ok := cmd.(*FreeBuffer); ok {
			freed[f.Buffer.ID] = true
		}
	}
	require.True(t, freed[out.Bump.ID])
	require.False(t, freed[res.Seeds.ID])
	require.False(t, freed[res.Offsets.ID])
	require.False(t, freed[res.Output.ID])
	require.False(t, freed[res.Triangles.ID])

	// Unchanged triangles aren't uploaded again.
	var rec Recording
	require.Equal(t, res.Triangles, res.UploadTriangles(arena, &rec, store))
	require.Empty(t, rec.Commands)
}
