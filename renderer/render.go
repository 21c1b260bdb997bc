// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/mem"
	"honnef.co/go/scenesdf/profiler"
)

type FullShaders struct {
	CoarseCount   ShaderID
	CoarseAlloc   ShaderID
	CoarseScatter ShaderID
	Fine          ShaderID
	Blend         ShaderID
	JFAInit       ShaderID
	JFA           ShaderID
	Stitch        ShaderID
	Extract       ShaderID
}

// All returns the IDs of all shaders, in stage order.
func (fs *FullShaders) All() []ShaderID {
	return []ShaderID{
		fs.CoarseCount,
		fs.CoarseAlloc,
		fs.CoarseScatter,
		fs.Fine,
		fs.Blend,
		fs.JFAInit,
		fs.JFA,
		fs.Stitch,
		fs.Extract,
	}
}

// JumpStep is the per-pass uniform of the propagation stages.
type JumpStep struct {
	_ structs.HostLayout

	Step uint32
	// Set for the last pass, which writes the result back to the
	// persistent seed volume.
	Final uint32
	_     [2]uint32
}

// CascadeUpdate is what a recorded update leaves behind besides its writes
// to the persistent volumes.
type CascadeUpdate struct {
	Recording *Recording
	// The update's counters, downloaded once it has run.
	Bump BufferProxy
}

// RecordCascadeUpdate records the whole stage chain for one cascade update:
// binning the visible triangles into tiles, rasterizing them into subvoxel
// occupancy, propagating nearest seeds across the redraw region and
// extracting distances into the output volume. Only voxels in the redraw
// region are written.
func RecordCascadeUpdate(
	arena *mem.Arena,
	res *Resources,
	shaders *FullShaders,
	cfg *CascadeConfig,
	enc *encoding.Encoding,
	store *encoding.TriangleStore,
	pgroup profiler.ProfilerGroup,
) CascadeUpdate {
	pgroup = pgroup.Start("RecordCascadeUpdate")
	defer pgroup.End()

	rec := mem.New[Recording](arena)
	sizes := &cfg.BufferSizes
	wgCounts := &cfg.WorkgroupCounts
	bufs := func(b ...BufferProxy) []BufferProxy { return mem.MakeSlice(arena, b) }

	configBuf := rec.UploadUniform(arena, "config", safeish.AsBytes(&cfg.GPU))
	instancesBuf := NewTypedBufferProxy(sizes.Instances, "instances")
	rec.UploadTo(arena, instancesBuf, safeish.SliceCast[[]byte](enc.Instances))
	trianglesBuf := res.UploadTriangles(arena, rec, store)

	worldTrisBuf := NewTypedBufferProxy(sizes.WorldTriangles, "world_triangles")
	tileHeadersBuf := NewTypedBufferProxy(sizes.TileHeaders, "tile_headers")
	virtualTilesBuf := NewTypedBufferProxy(sizes.VirtualTiles, "virtual_tiles")
	tileIDsBuf := NewTypedBufferProxy(sizes.TileIDs, "tile_ids")
	fineMasksBuf := NewTypedBufferProxy(sizes.FineMasks, "fine_masks")
	bumpBuf := NewTypedBufferProxy(sizes.BumpAlloc, "bump_allocators")
	indirectBuf := NewTypedBufferProxy(sizes.IndirectCount, "indirect_count")
	scratch := [2]BufferProxy{
		NewTypedBufferProxy(sizes.Scratch, "jfa_ping"),
		NewTypedBufferProxy(sizes.Scratch, "jfa_pong"),
	}

	rec.ClearAll(arena, tileHeadersBuf)
	rec.ClearAll(arena, fineMasksBuf)
	rec.ClearAll(arena, bumpBuf)

	rec.Dispatch(
		arena,
		shaders.CoarseCount,
		wgCounts.CoarseCount,
		bufs(configBuf, instancesBuf, trianglesBuf, worldTrisBuf, tileHeadersBuf, bumpBuf),
	)
	rec.Dispatch(
		arena,
		shaders.CoarseAlloc,
		wgCounts.CoarseAlloc,
		bufs(configBuf, tileHeadersBuf, virtualTilesBuf, bumpBuf, indirectBuf),
	)
	rec.Dispatch(
		arena,
		shaders.CoarseScatter,
		wgCounts.CoarseScatter,
		bufs(configBuf, worldTrisBuf, tileHeadersBuf, virtualTilesBuf, tileIDsBuf, bumpBuf),
	)
	rec.DispatchIndirect(
		arena,
		shaders.Fine,
		indirectBuf,
		0,
		bufs(configBuf, worldTrisBuf, virtualTilesBuf, tileIDsBuf, fineMasksBuf),
	)
	rec.Dispatch(
		arena,
		shaders.Blend,
		wgCounts.Blend,
		bufs(configBuf, tileHeadersBuf, virtualTilesBuf, fineMasksBuf, res.Seeds),
	)
	rec.Dispatch(
		arena,
		shaders.JFAInit,
		wgCounts.JFAInit,
		bufs(configBuf, res.Seeds, scratch[0]),
	)

	var stepBufs []BufferProxy
	src := 0
	pass := func(shader ShaderID, wgSize WorkgroupSize, step JumpStep) {
		stepBuf := rec.UploadUniform(arena, "jfa_step", safeish.AsBytes(mem.Make(arena, step)))
		stepBufs = mem.Append(arena, stepBufs, stepBuf)
		rec.Dispatch(
			arena,
			shader,
			wgSize,
			bufs(configBuf, stepBuf, res.Offsets, scratch[src], scratch[1-src]),
		)
		src = 1 - src
	}
	for _, step := range res.limits.JumpSteps() {
		pass(shaders.JFA, wgCounts.JFA, JumpStep{Step: step})
	}
	// Stitching repeats single steps, which lets seeds cross tile boundaries
	// that the larger steps skipped over. The last pass writes the result
	// back to the persistent volume.
	passes := res.limits.StitchPasses
	for i := range passes {
		var final uint32
		if i == passes-1 {
			final = 1
		}
		pass(shaders.Stitch, wgCounts.Stitch, JumpStep{Step: 1, Final: final})
	}

	rec.Dispatch(
		arena,
		shaders.Extract,
		wgCounts.Extract,
		bufs(configBuf, res.Seeds, res.Offsets, res.Output),
	)

	rec.Download(arena, bumpBuf)

	rec.FreeBuffer(arena, configBuf)
	rec.FreeBuffer(arena, instancesBuf)
	rec.FreeBuffer(arena, worldTrisBuf)
	rec.FreeBuffer(arena, tileHeadersBuf)
	rec.FreeBuffer(arena, virtualTilesBuf)
	rec.FreeBuffer(arena, tileIDsBuf)
	rec.FreeBuffer(arena, fineMasksBuf)
	rec.FreeBuffer(arena, indirectBuf)
	rec.FreeBuffer(arena, scratch[0])
	rec.FreeBuffer(arena, scratch[1])
	rec.FreeBuffer(arena, bumpBuf)
	for _, b := range stepBufs {
		rec.FreeBuffer(arena, b)
	}

	return CascadeUpdate{
		Recording: rec,
		Bump:      bumpBuf,
	}
}
