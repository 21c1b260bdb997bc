// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package scenesdf incrementally builds a cascaded signed distance field of
// the geometry around a moving viewer.
//
// Each cascade is a cube of voxels centered on the viewer. Cascades refresh
// on their own schedules, at most one per frame, and only redraw the slab of
// tiles their window scrolled over.
package scenesdf

import (
	"cmp"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
	"honnef.co/go/scenesdf/mem"
	"honnef.co/go/scenesdf/profiler"
	"honnef.co/go/scenesdf/renderer"
)

// Device executes recordings. Implementations run recordings in submission
// order, possibly asynchronously.
type Device interface {
	FullShaders() *renderer.FullShaders
	// Ready reports whether the shaders can be dispatched.
	Ready(ids ...renderer.ShaderID) bool
	Profile(tag uint64) profiler.ProfilerGroup
	RunRecording(rec *renderer.Recording, label string, pgroup profiler.ProfilerGroup)
	// Collect returns the results of finished profiled submissions without
	// blocking.
	Collect() []profiler.Result
	Wait()
	// Buffer returns the contents of a live buffer. Only valid after Wait.
	Buffer(proxy renderer.BufferProxy) ([]byte, bool)
}

// VolumeSink receives the parts of the output that changed.
type VolumeSink interface {
	Resize(extent [3]uint32, numCascades int)
	// WriteSlab writes a box of distances, stored x-major.
	WriteSlab(origin, extent [3]uint32, data []float32)
	WriteHeaders(headers []renderer.CascadeHeader)
}

type SkipReason int

const (
	// A cascade was updated.
	NotSkipped SkipReason = iota
	// No cascade was due, or the due cascade's window didn't move.
	SkipIdle
	// The shaders haven't been built yet.
	SkipNotReady
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case SkipIdle:
		return "idle"
	case SkipNotReady:
		return "not_ready"
	default:
		return "invalid"
	}
}

// UpdateInfo describes what a call to Update did.
type UpdateInfo struct {
	Skipped SkipReason
	Cascade int
	Redraw  jmath.IVec3
	// Number of objects intersecting the redraw region.
	Visible int
	// Number of triangles submitted for the redraw region.
	Triangles uint32
}

// Report is the outcome of an executed cascade update.
type Report struct {
	Frame   uint64
	Cascade int
	// Time between recording and completing the update.
	Duration time.Duration
	// Capacity counters. Any non-zero drop count means that the update's
	// distances are less accurate than they could be.
	Counters renderer.BumpAllocators
}

// Exhausted reports whether the update ran out of any capacity.
func (r Report) Exhausted() bool {
	return r.Counters.Failed != 0 || r.Counters.DroppedTriangles != 0 || r.Counters.DroppedIDs != 0
}

// Output is the distance volume with the headers needed to interpret it.
type Output struct {
	Headers []renderer.CascadeHeader
	// Dimensions of Volume in voxels, cascades side by side along x.
	Extent [3]uint32
	// Distances in voxel units, x-major.
	Volume []float32
}

type dirtyBox struct {
	origin, extent [3]uint32
}

// Past this many queued boxes, Flush writes the whole output instead.
const maxDirtyBoxes = 64

// Pipeline owns the state of the distance field: cascade windows, persistent
// volumes and the scene feeding them.
type Pipeline struct {
	Scene *Scene

	dev       Device
	limits    renderer.Limits
	settings  Settings
	scheduler *renderer.Scheduler
	resources *renderer.Resources
	headers   []renderer.CascadeHeader

	arena      *mem.Arena
	enc        encoding.Encoding
	clips      []ms3.Box
	generation uint64

	// tags of profiled updates not yet collected, mapped to their cascade
	inflight map[uint64]int
	reports  []Report
	stats    renderer.Stats

	// Output regions written since the last Flush. Once dirtyAll is set,
	// dirty holds a single box covering the whole output.
	dirty       []dirtyBox
	dirtyVoxels uint64
	dirtyAll    bool
	resized     bool
}

// New creates a pipeline drawing scene on dev. Limits are fixed for the
// lifetime of the pipeline.
func New(dev Device, limits renderer.Limits, settings Settings, scene *Scene) (*Pipeline, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settings = settings.clone()
	p := &Pipeline{
		Scene:      scene,
		dev:        dev,
		limits:     limits,
		settings:   settings,
		scheduler:  renderer.NewScheduler(limits, settings.Cascades),
		resources:  renderer.NewResources(limits),
		arena:      mem.NewArena(),
		generation: scene.Triangles.Generation(),
		inflight:   make(map[uint64]int),
	}
	p.resize()
	return p, nil
}

func (p *Pipeline) Limits() renderer.Limits { return p.limits }
func (p *Pipeline) Settings() Settings       { return p.settings.clone() }

// Headers returns the cascade headers. Headers of cascades that haven't been
// drawn yet have Valid unset.
func (p *Pipeline) Headers() []renderer.CascadeHeader { return p.headers }

func (p *Pipeline) Stats() *renderer.Stats { return &p.stats }

// resize reallocates the persistent volumes for the current number of
// cascades.
func (p *Pipeline) resize() {
	n := len(p.settings.Cascades)
	rec := mem.New[renderer.Recording](p.arena)
	p.resources.Resize(p.arena, rec, n)
	p.dev.RunRecording(rec, "resize", profiler.Nop{})
	p.arena.Reset()

	p.headers = make([]renderer.CascadeHeader, n)
	p.resetHeaders()
	p.clearDirty()
	p.resized = true
	logs.WithTag("cascades", n).
		WithTag("extent", p.resources.OutputExtent()).
		Info("allocated distance volumes")
}

func (p *Pipeline) resetHeaders() {
	for i, cs := range p.settings.Cascades {
		tileSize := cs.TileSize(p.limits)
		p.headers[i] = renderer.CascadeHeader{
			Index:     uint32(i),
			TileSize:  tileSize,
			VoxelSize: tileSize / float32(p.limits.VoxelsPerTileDim),
		}
	}
}

// SetSettings replaces the settings. Every cascade is redrawn from scratch;
// the volumes are only reallocated if the number of cascades changed.
func (p *Pipeline) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings = settings.clone()
	resize := len(settings.Cascades) != len(p.settings.Cascades)
	p.settings = settings
	p.scheduler.SetCascades(settings.Cascades)
	if resize {
		p.resize()
	} else {
		p.resetHeaders()
	}
	logs.WithTag("cascades", len(settings.Cascades)).
		WithTag("filter", settings.Filter.String()).
		Info("settings changed, resetting cascades")
	return nil
}

// Reset forces every cascade to be redrawn from scratch on its next
// scheduled frame.
func (p *Pipeline) Reset() {
	p.scheduler.Reset()
	p.resetHeaders()
}

// Update runs the pipeline for one frame. At most one cascade, the first one
// scheduled for the frame, is refreshed, and only if its window moved or it
// has never been drawn. The work is queued on the device; Wait, Flush or
// Output observe its results.
func (p *Pipeline) Update(frame uint64, viewer ms3.Vec) UpdateInfo {
	if gen := p.Scene.Triangles.Generation(); gen != p.generation {
		p.generation = gen
		p.Reset()
		logs.WithTag("generation", gen).Debug("triangle store changed, resetting cascades")
	}

	update, ok := p.scheduler.Plan(frame, viewer)
	if !ok {
		return UpdateInfo{Skipped: SkipIdle}
	}
	shaders := p.dev.FullShaders()
	if !p.dev.Ready(shaders.All()...) {
		// Leave the scheduler untouched so the update is retried on the
		// cascade's next frame.
		logs.WithTag("frame", frame).
			WithTag("cascade", update.Cascade).
			Debug("shaders not ready, skipping update")
		return UpdateInfo{Skipped: SkipNotReady, Cascade: update.Cascade}
	}
	defer p.arena.Reset()

	p.clips = update.ClipBoxes(p.clips[:0], p.limits)
	p.enc.Reset()
	visible := p.Scene.encode(&p.enc, p.clips, p.settings.Filter)

	cfg := renderer.NewCascadeConfig(
		p.arena,
		p.limits,
		len(p.settings.Cascades),
		update,
		uint32(len(p.enc.Instances)),
		p.enc.NumTriangles,
	)
	pgroup := p.dev.Profile(frame)
	cu := renderer.RecordCascadeUpdate(p.arena, p.resources, shaders, cfg, &p.enc, p.Scene.Triangles, pgroup)
	p.dev.RunRecording(cu.Recording, "cascade_update", pgroup)
	pgroup.End()
	if _, ok := pgroup.(profiler.Nop); !ok {
		p.inflight[frame] = update.Cascade
	}

	p.scheduler.Commit(update)
	p.headers[update.Cascade] = renderer.CascadeHeader{
		Index:     uint32(update.Cascade),
		Origin:    update.Origin,
		TileSize:  update.TileSize,
		VoxelSize: cfg.GPU.VoxelSize(),
		Valid:     1,
	}
	p.markDirty(&cfg.GPU)

	return UpdateInfo{
		Cascade:   update.Cascade,
		Redraw:    update.Redraw,
		Visible:   visible,
		Triangles: p.enc.NumTriangles,
	}
}

// markDirty records the output region written by an update. The region is
// contiguous in window space but may wrap around in storage. Once the queued
// boxes add up to the size of the output, or there are too many of them,
// they collapse into a single box covering everything.
func (p *Pipeline) markDirty(config *renderer.ConfigUniform) {
	if p.dirtyAll {
		return
	}
	vpa := config.VoxelsPerAxis()
	t := config.VoxelsPerTileDim
	var spans [3][][2]uint32
	for i := range 3 {
		lo := config.RegionMin[i] * t
		n := (config.RegionMax[i] - config.RegionMin[i]) * t
		start := uint32(jmath.Mod(config.Origin[i]*int32(t)+int32(lo), int32(vpa)))
		if n == vpa {
			spans[i] = [][2]uint32{{0, vpa}}
		} else if start+n <= vpa {
			spans[i] = [][2]uint32{{start, n}}
		} else {
			spans[i] = [][2]uint32{{start, vpa - start}, {0, start + n - vpa}}
		}
	}
	xOff := config.Cascade * vpa
	for _, x := range spans[0] {
		for _, y := range spans[1] {
			for _, z := range spans[2] {
				p.dirty = append(p.dirty, dirtyBox{
					origin: [3]uint32{xOff + x[0], y[0], z[0]},
					extent: [3]uint32{x[1], y[1], z[1]},
				})
				p.dirtyVoxels += uint64(x[1]) * uint64(y[1]) * uint64(z[1])
			}
		}
	}

	extent := p.resources.OutputExtent()
	total := uint64(extent[0]) * uint64(extent[1]) * uint64(extent[2])
	if len(p.dirty) > maxDirtyBoxes || p.dirtyVoxels >= total {
		p.dirty = append(p.dirty[:0], dirtyBox{extent: extent})
		p.dirtyVoxels = total
		p.dirtyAll = true
	}
}

func (p *Pipeline) clearDirty() {
	p.dirty = p.dirty[:0]
	p.dirtyVoxels = 0
	p.dirtyAll = false
}

// Collect gathers the reports of finished updates without blocking, logs
// exhausted capacities and folds stage timings into Stats. The returned
// slice is only valid until the next call to Collect.
func (p *Pipeline) Collect() []Report {
	p.reports = p.reports[:0]
	for _, res := range p.dev.Collect() {
		cascade, ok := p.inflight[res.Tag]
		if !ok {
			continue
		}
		delete(p.inflight, res.Tag)

		r := Report{Frame: res.Tag, Cascade: cascade}
		if len(res.Passes) > 0 {
			r.Duration = res.Passes[len(res.Passes)-1].End.Sub(res.CPUStart)
		}
		for _, pass := range res.Passes {
			p.stats.Add(pass.Label, pass.Duration())
		}
		for _, child := range res.Children {
			p.stats.Add(child.Label, child.CPUEnd.Sub(child.CPUStart))
		}
		if b, ok := res.Downloads["bump_allocators"]; ok && len(b) > 0 {
			r.Counters = *safeish.Cast[*renderer.BumpAllocators](&b[0])
		}
		if r.Exhausted() {
			logs.WithTag("cascade", cascade).
				WithTag("frame", res.Tag).
				WithTag("dropped_triangles", r.Counters.DroppedTriangles).
				WithTag("dropped_tile_ids", r.Counters.DroppedIDs).
				WithTag("virtual_tiles", r.Counters.VirtualTiles).
				WithTag("virtual_tiles_exhausted", r.Counters.Failed&renderer.FailedVirtualTiles != 0).
				Warn("cascade update ran out of capacity")
		}
		p.reports = append(p.reports, r)
	}
	return p.reports
}

// Wait blocks until all queued updates have executed.
func (p *Pipeline) Wait() { p.dev.Wait() }

func (p *Pipeline) volume() []float32 {
	buf, ok := p.dev.Buffer(p.resources.Output)
	if !ok {
		return nil
	}
	return safeish.SliceCast[[]float32](buf)
}

// Output waits for queued updates and returns the current distance volume.
// The volume is only valid until the next call to Update.
func (p *Pipeline) Output() Output {
	p.dev.Wait()
	return Output{
		Headers: p.headers,
		Extent:  p.resources.OutputExtent(),
		Volume:  p.volume(),
	}
}

// Sample returns the distance, in world units, from p to the nearest
// surface, looked up in the finest drawn cascade containing p. It reports
// false if no cascade contains p. Callers must Wait first.
func (p *Pipeline) Sample(pos ms3.Vec) (float32, bool) {
	volume := p.volume()
	if volume == nil {
		return 0, false
	}
	order := make([]int, 0, len(p.headers))
	for i := range p.headers {
		if p.headers[i].Valid != 0 {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(p.headers[a].VoxelSize, p.headers[b].VoxelSize)
	})

	vpa := int32(p.limits.VoxelsPerAxis())
	t := int32(p.limits.VoxelsPerTileDim)
	width := vpa * int32(len(p.headers))
	for _, ci := range order {
		h := &p.headers[ci]
		var phys [3]int32
		inside := true
		for i := range 3 {
			world := jmath.Comp(pos, i) / h.VoxelSize
			local := world - float32(h.Origin[i]*t)
			// Stay a voxel away from the window's faces so that filtering
			// consumers always find neighbors.
			if !(local >= 1 && local < float32(vpa-1)) {
				inside = false
				break
			}
			phys[i] = jmath.Mod(int32(math32.Floor(world)), vpa)
		}
		if !inside {
			continue
		}
		idx := int32(ci)*vpa + phys[0] + width*(phys[1]+vpa*phys[2])
		return volume[idx] * h.VoxelSize, true
	}
	return 0, false
}

// Flush waits for queued updates and writes the parts of the output that
// changed since the last Flush to sink.
func (p *Pipeline) Flush(sink VolumeSink) {
	p.dev.Wait()
	extent := p.resources.OutputExtent()
	if p.resized {
		sink.Resize(extent, len(p.headers))
		p.dirty = append(p.dirty[:0], dirtyBox{extent: extent})
		p.resized = false
	}
	volume := p.volume()
	var slab []float32
	for _, box := range p.dirty {
		n := int(box.extent[0] * box.extent[1] * box.extent[2])
		slab = slices.Grow(slab[:0], n)[:n]
		i := 0
		for z := range box.extent[2] {
			for y := range box.extent[1] {
				row := box.origin[0] + extent[0]*((box.origin[1]+y)+extent[1]*(box.origin[2]+z))
				i += copy(slab[i:], volume[row:row+box.extent[0]])
			}
		}
		sink.WriteSlab(box.origin, box.extent, slab)
	}
	p.clearDirty()
	sink.WriteHeaders(p.headers)
}
