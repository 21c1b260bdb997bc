// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package scenesdf

import (
	"slices"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/engine/cpu_engine"
	"honnef.co/go/scenesdf/jmath"
	"honnef.co/go/scenesdf/renderer"
)

// With these limits, a cascade with a far distance of 2 has tiles of one
// unit and voxels of a quarter unit, and a viewer at the origin sees the
// window [-2, 2) on every axis.
func testLimits() renderer.Limits {
	return renderer.Limits{
		TileDimCount:         4,
		VoxelsPerTileDim:     4,
		SubvoxelsPerVoxelDim: 2,
		MaxIDsPerTile:        8,
		MaxTiles:             4 * 4 * 4 * 4,
		MaxTriCount:          1024,
		StitchPasses:         2,
	}
}

func testSettings() Settings {
	return Settings{
		Cascades: []renderer.CascadeSettings{{
			FarDistance:    2,
			UpdateSchedule: renderer.UpdateSchedule{Frequency: 1},
		}},
	}
}

// floor returns two triangles forming a square of the given half extent in
// the plane at height z.
func floor(z, half float32) []ms3.Vec {
	return []ms3.Vec{
		{X: -half, Y: -half, Z: z}, {X: half, Y: -half, Z: z}, {X: half, Y: half, Z: z},
		{X: -half, Y: -half, Z: z}, {X: half, Y: half, Z: z}, {X: -half, Y: half, Z: z},
	}
}

func newTestPipeline(t *testing.T, limits renderer.Limits, opts cpu_engine.Options) (*Pipeline, *cpu_engine.Engine) {
	t.Helper()
	eng := cpu_engine.New(&opts)
	t.Cleanup(eng.Close)
	p, err := New(eng, limits, testSettings(), NewScene(limits.MaxTriCount))
	require.NoError(t, err)
	return p, eng
}

func addFloor(t *testing.T, s *Scene, z float32) {
	t.Helper()
	mesh := encoding.NewMeshID()
	n, err := s.SetMesh(mesh, floor(z, 3), nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	s.AddObject(Object{Mesh: mesh, Transform: jmath.Identity})
}

func TestPipelineFirstUpdateRedrawsWindow(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)

	info := p.Update(0, ms3.Vec{})
	require.Equal(t, NotSkipped, info.Skipped)
	require.Equal(t, 0, info.Cascade)
	require.Equal(t, jmath.IVec3{4, 0, 0}, info.Redraw)
	require.Equal(t, 1, info.Visible)
	require.Equal(t, uint32(2), info.Triangles)

	p.Wait()
	h := p.Headers()[0]
	require.Equal(t, uint32(1), h.Valid)
	require.Equal(t, [3]int32{-2, -2, -2}, h.Origin)
	require.Equal(t, float32(1), h.TileSize)
	require.Equal(t, float32(0.25), h.VoxelSize)

	out := p.Output()
	require.Equal(t, [3]uint32{16, 16, 16}, out.Extent)
	require.Len(t, out.Volume, 16*16*16)
}

func TestPipelinePlaneDistances(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})
	p.Wait()

	// Sample at voxel centers, above and below the plane.
	for _, z := range []float32{-1.375, -0.625, -0.125, 0.125, 0.375, 0.875, 1.625} {
		for _, xy := range []float32{-1.125, 0.125, 1.375} {
			d, ok := p.Sample(ms3.Vec{X: xy, Y: -xy, Z: z})
			require.True(t, ok)
			require.InDelta(t, jmath.Abs(z), d, 0.25, "z=%v xy=%v", z, xy)
		}
	}

	// Within a voxel of the window's faces, or outside of it.
	for _, pos := range []ms3.Vec{
		{X: 1.9},
		{Y: -1.9},
		{Z: 5},
	} {
		_, ok := p.Sample(pos)
		require.False(t, ok)
	}
}

func TestPipelineEmptySceneIsFar(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 2})
	info := p.Update(0, ms3.Vec{})
	require.Equal(t, NotSkipped, info.Skipped)
	require.Zero(t, info.Visible)

	out := p.Output()
	for _, d := range out.Volume {
		require.Equal(t, float32(16), d)
	}
}

func TestPipelineIdleFrameLeavesOutputUnchanged(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})
	before := slices.Clone(p.Output().Volume)

	// Less than a tile of movement doesn't move the window.
	info := p.Update(1, ms3.Vec{X: 0.3, Y: 0.2})
	require.Equal(t, SkipIdle, info.Skipped)
	info = p.Update(2, ms3.Vec{})
	require.Equal(t, SkipIdle, info.Skipped)

	require.Equal(t, before, p.Output().Volume)
}

func TestPipelineSkipsUntilShadersReady(t *testing.T) {
	p, eng := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 2, ParallelInitialization: true})
	addFloor(t, p.Scene, 0)

	info := p.Update(0, ms3.Vec{})
	require.Equal(t, SkipNotReady, info.Skipped)
	require.Zero(t, p.Headers()[0].Valid)

	eng.BuildShaders(2)
	info = p.Update(1, ms3.Vec{})
	require.Equal(t, NotSkipped, info.Skipped)
	// Nothing was committed by the skipped frame, so this is still the
	// initial full redraw.
	require.Equal(t, jmath.IVec3{4, 0, 0}, info.Redraw)
	p.Wait()
	require.Equal(t, uint32(1), p.Headers()[0].Valid)
}

func TestPipelineScrollMatchesFullRedraw(t *testing.T) {
	scrolled, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	fresh, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, scrolled.Scene, 0)
	addFloor(t, fresh.Scene, 0)

	scrolled.Update(0, ms3.Vec{})
	info := scrolled.Update(1, ms3.Vec{X: 1})
	require.Equal(t, NotSkipped, info.Skipped)
	require.Equal(t, jmath.IVec3{1, 0, 0}, info.Redraw)
	info = fresh.Update(0, ms3.Vec{X: 1})
	require.Equal(t, jmath.IVec3{4, 0, 0}, info.Redraw)

	scrolled.Wait()
	fresh.Wait()
	require.Equal(t, fresh.Headers(), scrolled.Headers())
	for x := float32(-0.625); x < 2.75; x += 0.25 {
		for _, z := range []float32{-0.875, -0.125, 0.375, 1.125} {
			pos := ms3.Vec{X: x, Y: 0.125, Z: z}
			want, ok := fresh.Sample(pos)
			require.True(t, ok)
			got, ok := scrolled.Sample(pos)
			require.True(t, ok)
			require.InDelta(t, want, got, 0.25, "at %v", pos)
		}
	}
}

func TestPipelineCrossTileConsistency(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0.3)
	p.Update(0, ms3.Vec{})
	out := p.Output()

	const vpa = 16
	// at takes window voxel coordinates. The window starts at world voxel
	// -8, which is stored at 8.
	at := func(x, y, z int) float32 {
		return out.Volume[(x+8)%vpa+vpa*((y+8)%vpa+vpa*((z+8)%vpa))]
	}
	// Tile boundaries lie between window voxels 3|4, 7|8 and 11|12.
	// Distances are in voxel units, and neighboring voxel centers are one
	// voxel apart.
	for _, b := range []int{4, 8, 12} {
		for i := 0; i < vpa; i++ {
			for j := 0; j < vpa; j++ {
				require.LessOrEqual(t, jmath.Abs(at(b-1, i, j)-at(b, i, j)), float32(1.001))
				require.LessOrEqual(t, jmath.Abs(at(i, b-1, j)-at(i, b, j)), float32(1.001))
				require.LessOrEqual(t, jmath.Abs(at(i, j, b-1)-at(i, j, b)), float32(1.001))
			}
		}
	}
}

func TestPipelineOverflowTiles(t *testing.T) {
	limits := testLimits()
	limits.MaxIDsPerTile = 1
	p, _ := newTestPipeline(t, limits, cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})
	p.Wait()

	reports := p.Collect()
	require.Len(t, reports, 1)
	r := reports[0]
	require.Equal(t, uint64(0), r.Frame)
	require.Equal(t, 0, r.Cascade)
	require.False(t, r.Exhausted())
	// Both triangles overlap the same 32 tiles, each needing a primary and
	// an overflow tile.
	require.Equal(t, uint32(64), r.Counters.VirtualTiles)

	// Both halves of the square contribute.
	for _, pos := range []ms3.Vec{
		{X: 1.125, Y: -1.125, Z: 0.375},
		{X: -1.125, Y: 1.125, Z: 0.375},
	} {
		d, ok := p.Sample(pos)
		require.True(t, ok)
		require.InDelta(t, 0.375, d, 0.25)
	}

	st, ok := p.Stats().Get("fine")
	require.True(t, ok)
	require.Equal(t, uint64(1), st.Samples)
}

func TestPipelineExhaustedVirtualTiles(t *testing.T) {
	limits := testLimits()
	limits.MaxIDsPerTile = 1
	limits.MaxTiles = 32
	p, _ := newTestPipeline(t, limits, cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})
	p.Wait()

	reports := p.Collect()
	require.Len(t, reports, 1)
	r := reports[0]
	require.True(t, r.Exhausted())
	require.NotZero(t, r.Counters.Failed&renderer.FailedVirtualTiles)
	require.Equal(t, uint32(32), r.Counters.VirtualTiles)
	require.Equal(t, uint32(32), r.Counters.DroppedIDs)

	// Degraded, but still finite and within range.
	for _, d := range p.Output().Volume {
		require.False(t, math32.IsNaN(d))
		require.LessOrEqual(t, d, float32(16))
	}
}

func TestPipelineMeshChangeResets(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 2})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})
	require.Equal(t, SkipIdle, p.Update(1, ms3.Vec{}).Skipped)

	addFloor(t, p.Scene, 1)
	info := p.Update(2, ms3.Vec{})
	require.Equal(t, NotSkipped, info.Skipped)
	require.Equal(t, jmath.IVec3{4, 0, 0}, info.Redraw)
	require.Equal(t, 2, info.Visible)

	p.Wait()
	d, ok := p.Sample(ms3.Vec{X: 0.125, Y: 0.125, Z: 0.625})
	require.True(t, ok)
	require.InDelta(t, 0.375, d, 0.25)
}

func TestPipelineSettings(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 2})
	addFloor(t, p.Scene, 0)
	p.Update(0, ms3.Vec{})

	bad := testSettings()
	bad.Cascades[0].UpdateSchedule.Offset = 1
	err := p.SetSettings(bad)
	require.Error(t, err)
	require.Equal(t, ErrInvalidSettings, errors.Type(err))
	require.Equal(t, testSettings(), p.Settings())

	two := testSettings()
	two.Cascades = append(two.Cascades, renderer.CascadeSettings{
		FarDistance:    4,
		UpdateSchedule: renderer.UpdateSchedule{Frequency: 2, Offset: 1},
	})
	require.NoError(t, p.SetSettings(two))
	require.Len(t, p.Headers(), 2)
	require.Zero(t, p.Headers()[0].Valid)

	// Frame 1 is due for both cascades; the finer one wins.
	info := p.Update(1, ms3.Vec{})
	require.Equal(t, 0, info.Cascade)
	require.Equal(t, SkipIdle, p.Update(2, ms3.Vec{}).Skipped)
	// Frame 3 is due for both again, but the first cascade didn't move, so
	// nothing happens.
	require.Equal(t, SkipIdle, p.Update(3, ms3.Vec{}).Skipped)

	out := p.Output()
	require.Equal(t, [3]uint32{32, 16, 16}, out.Extent)
	require.Equal(t, float32(0.5), out.Headers[1].VoxelSize)
}

type recordingSink struct {
	extent      [3]uint32
	numCascades int
	volume      []float32
	headers     []renderer.CascadeHeader
	slabs       int
}

func (s *recordingSink) Resize(extent [3]uint32, numCascades int) {
	s.extent = extent
	s.numCascades = numCascades
	s.volume = make([]float32, extent[0]*extent[1]*extent[2])
}

func (s *recordingSink) WriteSlab(origin, extent [3]uint32, data []float32) {
	s.slabs++
	i := 0
	for z := range extent[2] {
		for y := range extent[1] {
			row := origin[0] + s.extent[0]*((origin[1]+y)+s.extent[1]*(origin[2]+z))
			i += copy(s.volume[row:row+extent[0]], data[i:i+int(extent[0])])
		}
	}
}

func (s *recordingSink) WriteHeaders(headers []renderer.CascadeHeader) {
	s.headers = slices.Clone(headers)
}

func TestPipelineFlush(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	sink := &recordingSink{}

	p.Update(0, ms3.Vec{})
	p.Flush(sink)
	require.Equal(t, [3]uint32{16, 16, 16}, sink.extent)
	require.Equal(t, 1, sink.numCascades)
	require.Equal(t, 1, sink.slabs)
	require.Equal(t, p.Output().Volume, sink.volume)
	require.Equal(t, p.Headers(), sink.headers)

	// Scrolling by a tile along -y rewrites a single slab.
	sink.slabs = 0
	p.Update(1, ms3.Vec{Y: -1})
	p.Flush(sink)
	require.Equal(t, 1, sink.slabs)
	require.Equal(t, p.Output().Volume, sink.volume)

	// Nothing changed, nothing written.
	sink.slabs = 0
	p.Update(2, ms3.Vec{Y: -1})
	p.Flush(sink)
	require.Zero(t, sink.slabs)
}

func TestPipelineDirtyRegionsStayBounded(t *testing.T) {
	p, _ := newTestPipeline(t, testLimits(), cpu_engine.Options{Workers: 4})
	addFloor(t, p.Scene, 0)
	sink := &recordingSink{}
	p.Update(0, ms3.Vec{})
	p.Flush(sink)

	// Without a Flush, scrolling keeps adding regions until they cover the
	// whole output.
	for i := 1; i <= 100; i++ {
		info := p.Update(uint64(i), ms3.Vec{X: float32(i)})
		require.Equal(t, NotSkipped, info.Skipped)
		require.LessOrEqual(t, len(p.dirty), maxDirtyBoxes)
		if i < 4 {
			require.Len(t, p.dirty, i)
		}
	}
	require.True(t, p.dirtyAll)
	require.Equal(t, []dirtyBox{{extent: [3]uint32{16, 16, 16}}}, p.dirty)

	sink.slabs = 0
	p.Flush(sink)
	require.Equal(t, 1, sink.slabs)
	require.Equal(t, p.Output().Volume, sink.volume)
	require.Empty(t, p.dirty)
	require.False(t, p.dirtyAll)

	sink.slabs = 0
	p.Update(101, ms3.Vec{X: 101})
	p.Flush(sink)
	require.Equal(t, 1, sink.slabs)
	require.Equal(t, p.Output().Volume, sink.volume)
}
