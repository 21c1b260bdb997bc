// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf/jmath"
)

// CascadeState is the scrolling state of one cascade.
type CascadeState struct {
	// Tile-space origin of the cascade's window. Only meaningful if HasOrigin
	// is set.
	LastOrigin jmath.IVec3
	HasOrigin  bool
	// Tiles scrolled by this frame's update. Zero if the cascade isn't
	// updating this frame.
	Redraw jmath.IVec3
}

// Update describes the refresh of a single cascade.
type Update struct {
	Cascade int
	// Origin of the cascade's window after the update.
	Origin   jmath.IVec3
	TileSize float32
	// Signed number of tiles to redraw along Axis. The other components are
	// zero.
	Redraw jmath.IVec3
	Axis   int
}

// Region returns the redraw region in window tile coordinates, [lo, hi). It
// covers the leading |Redraw| tiles along the direction of travel and the
// full window along the other axes.
func (u Update) Region(l Limits) (lo, hi [3]uint32) {
	n := l.TileDimCount
	hi = [3]uint32{n, n, n}
	r := u.Redraw[u.Axis]
	if r > 0 {
		lo[u.Axis] = n - uint32(r)
	} else if r < 0 {
		hi[u.Axis] = uint32(-r)
	}
	return lo, hi
}

// ClipBoxes appends the world-space boxes of the redraw region to dst.
func (u Update) ClipBoxes(dst []ms3.Box, l Limits) []ms3.Box {
	if u.Redraw.IsZero() {
		return dst
	}
	lo, hi := u.Region(l)
	var box ms3.Box
	for i := range 3 {
		jmath.SetComp(&box.Min, i, float32(u.Origin[i]+int32(lo[i]))*u.TileSize)
		jmath.SetComp(&box.Max, i, float32(u.Origin[i]+int32(hi[i]))*u.TileSize)
	}
	return append(dst, box)
}

// Scheduler picks at most one cascade to refresh per frame and computes how
// far its window has to scroll.
type Scheduler struct {
	limits   Limits
	cascades []CascadeSettings
	states   []CascadeState
}

func NewScheduler(limits Limits, cascades []CascadeSettings) *Scheduler {
	s := &Scheduler{limits: limits}
	s.SetCascades(cascades)
	return s
}

// SetCascades replaces the cascade settings and resets every cascade.
func (s *Scheduler) SetCascades(cascades []CascadeSettings) {
	s.cascades = append(s.cascades[:0], cascades...)
	if cap(s.states) >= len(cascades) {
		s.states = s.states[:len(cascades)]
	} else {
		s.states = make([]CascadeState, len(cascades))
	}
	s.Reset()
}

// Reset forgets every cascade's origin, forcing a full redraw of each
// cascade on its next scheduled frame.
func (s *Scheduler) Reset() {
	clear(s.states)
}

func (s *Scheduler) States() []CascadeState { return s.states }

// BeginFrame marks every cascade as not updating.
func (s *Scheduler) BeginFrame() {
	for i := range s.states {
		s.states[i].Redraw = jmath.IVec3{}
	}
}

// WindowOrigin returns the tile-space origin that centers a cascade with the
// given tile size on the viewer.
func (s *Scheduler) WindowOrigin(viewer ms3.Vec, tileSize float32) jmath.IVec3 {
	half := float32(s.limits.TileDimCount) / 2
	var out jmath.IVec3
	for i := range 3 {
		out[i] = int32(math32.Floor(jmath.Comp(viewer, i)/tileSize - half))
	}
	return out
}

// Plan computes the update for the given frame without changing any state.
// Only the first cascade scheduled for the frame is considered; if its window
// hasn't moved, there is no update.
func (s *Scheduler) Plan(frame uint64, viewer ms3.Vec) (Update, bool) {
	for i, cs := range s.cascades {
		if !cs.UpdateSchedule.Due(frame) {
			continue
		}
		return s.plan(i, viewer)
	}
	return Update{}, false
}

func (s *Scheduler) plan(i int, viewer ms3.Vec) (Update, bool) {
	n := int32(s.limits.TileDimCount)
	tileSize := s.cascades[i].TileSize(s.limits)
	origin := s.WindowOrigin(viewer, tileSize)
	state := &s.states[i]

	if !state.HasOrigin {
		return Update{
			Cascade:  i,
			Origin:   origin,
			TileSize: tileSize,
			Redraw:   jmath.IVec3{n, 0, 0},
			Axis:     0,
		}, true
	}

	delta := origin.Sub(state.LastOrigin).Clamp(-n, n)
	if delta.IsZero() {
		return Update{}, false
	}
	axis := DominantAxis(delta)
	var redraw jmath.IVec3
	redraw[axis] = delta[axis]
	next := state.LastOrigin
	// Moves of more than a window are clamped to a full redraw, so the
	// origin jumps straight to its target.
	next[axis] = origin[axis]
	return Update{
		Cascade:  i,
		Origin:   next,
		TileSize: tileSize,
		Redraw:   redraw,
		Axis:     axis,
	}, true
}

// Commit applies an update returned by Plan.
func (s *Scheduler) Commit(u Update) {
	s.BeginFrame()
	st := &s.states[u.Cascade]
	st.LastOrigin = u.Origin
	st.HasOrigin = true
	st.Redraw = u.Redraw
}

// DominantAxis returns the axis with the largest absolute value. Ties go to
// the lowest axis.
func DominantAxis(v jmath.IVec3) int {
	axis := 0
	for i := 1; i < 3; i++ {
		if jmath.Abs(v[i]) > jmath.Abs(v[axis]) {
			axis = i
		}
	}
	return axis
}
