// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"testing"

	"github.com/soypat/geometry/ms3"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/jmath"
)

func every(freq, offset uint32, far float32) CascadeSettings {
	return CascadeSettings{
		FarDistance:    far,
		UpdateSchedule: UpdateSchedule{Frequency: freq, Offset: offset},
	}
}

func TestSchedulerFirstUpdate(t *testing.T) {
	l := DefaultLimits()
	s := NewScheduler(l, []CascadeSettings{every(1, 0, 3)})

	u, ok := s.Plan(0, ms3.Vec{})
	require.True(t, ok)
	require.Equal(t, 0, u.Cascade)
	require.Equal(t, jmath.IVec3{16, 0, 0}, u.Redraw)
	require.Equal(t, jmath.IVec3{-8, -8, -8}, u.Origin)
	require.InDelta(t, 0.375, u.TileSize, 1e-6)

	// Planning has no side effects.
	require.False(t, s.States()[0].HasOrigin)

	s.Commit(u)
	st := s.States()[0]
	require.True(t, st.HasOrigin)
	require.Equal(t, jmath.IVec3{-8, -8, -8}, st.LastOrigin)
	require.Equal(t, jmath.IVec3{16, 0, 0}, st.Redraw)

	lo, hi := u.Region(l)
	require.Equal(t, [3]uint32{0, 0, 0}, lo)
	require.Equal(t, [3]uint32{16, 16, 16}, hi)
}

func TestSchedulerSubTileMove(t *testing.T) {
	s := NewScheduler(DefaultLimits(), []CascadeSettings{every(1, 0, 3)})
	u, ok := s.Plan(0, ms3.Vec{})
	require.True(t, ok)
	s.Commit(u)

	_, ok = s.Plan(1, ms3.Vec{X: 0.1, Y: 0.2, Z: 0.3})
	require.False(t, ok)
}

func TestSchedulerScroll(t *testing.T) {
	l := DefaultLimits()
	s := NewScheduler(l, []CascadeSettings{every(1, 0, 3)})
	u, _ := s.Plan(0, ms3.Vec{})
	s.Commit(u)

	// Two tiles along +y and one along -z: y dominates and only y scrolls.
	u, ok := s.Plan(1, ms3.Vec{Y: 0.8, Z: -0.2})
	require.True(t, ok)
	require.Equal(t, 1, u.Axis)
	require.Equal(t, jmath.IVec3{0, 2, 0}, u.Redraw)
	require.Equal(t, jmath.IVec3{-8, -6, -8}, u.Origin)

	lo, hi := u.Region(l)
	require.Equal(t, [3]uint32{0, 14, 0}, lo)
	require.Equal(t, [3]uint32{16, 16, 16}, hi)

	boxes := u.ClipBoxes(nil, l)
	require.Len(t, boxes, 1)
	require.InDelta(t, 8*0.375, boxes[0].Min.Y, 1e-5)
	require.InDelta(t, 10*0.375, boxes[0].Max.Y, 1e-5)
	require.InDelta(t, -8*0.375, boxes[0].Min.X, 1e-5)
	require.InDelta(t, 8*0.375, boxes[0].Max.X, 1e-5)

	s.Commit(u)
	// The z offset is still pending.
	u, ok = s.Plan(2, ms3.Vec{Y: 0.8, Z: -0.2})
	require.True(t, ok)
	require.Equal(t, 2, u.Axis)
	require.Equal(t, jmath.IVec3{0, 0, -1}, u.Redraw)

	lo, hi = u.Region(l)
	require.Equal(t, [3]uint32{0, 0, 0}, lo)
	require.Equal(t, [3]uint32{16, 16, 1}, hi)
}

func TestSchedulerClampsLargeMoves(t *testing.T) {
	s := NewScheduler(DefaultLimits(), []CascadeSettings{every(1, 0, 3)})
	u, _ := s.Plan(0, ms3.Vec{})
	s.Commit(u)

	u, ok := s.Plan(1, ms3.Vec{X: -100})
	require.True(t, ok)
	require.Equal(t, jmath.IVec3{-16, 0, 0}, u.Redraw)
	want := s.WindowOrigin(ms3.Vec{X: -100}, u.TileSize)
	require.Equal(t, want[0], u.Origin[0])
	require.Equal(t, int32(-8), u.Origin[1])
}

func TestSchedulerOneCascadePerFrame(t *testing.T) {
	s := NewScheduler(DefaultLimits(), []CascadeSettings{
		every(2, 0, 3),
		every(2, 1, 6),
		every(4, 0, 12),
	})

	u, ok := s.Plan(0, ms3.Vec{})
	require.True(t, ok)
	require.Equal(t, 0, u.Cascade)
	s.Commit(u)

	u, ok = s.Plan(1, ms3.Vec{})
	require.True(t, ok)
	require.Equal(t, 1, u.Cascade)
	s.Commit(u)
	require.True(t, s.States()[0].Redraw.IsZero())
	require.Equal(t, jmath.IVec3{16, 0, 0}, s.States()[1].Redraw)

	// Frame 4 is due for cascades 0 and 2; the first one wins, and it has
	// nothing to do.
	_, ok = s.Plan(4, ms3.Vec{})
	require.False(t, ok)
	require.False(t, s.States()[2].HasOrigin)

	s.BeginFrame()
	for _, st := range s.States() {
		require.True(t, st.Redraw.IsZero())
	}
}

func TestSchedulerReset(t *testing.T) {
	s := NewScheduler(DefaultLimits(), []CascadeSettings{every(1, 0, 3)})
	u, _ := s.Plan(0, ms3.Vec{})
	s.Commit(u)
	_, ok := s.Plan(1, ms3.Vec{})
	require.False(t, ok)

	s.Reset()
	u, ok = s.Plan(2, ms3.Vec{})
	require.True(t, ok)
	require.Equal(t, jmath.IVec3{16, 0, 0}, u.Redraw)
}

func TestDominantAxis(t *testing.T) {
	tests := []struct {
		v    jmath.IVec3
		want int
	}{
		{jmath.IVec3{0, 0, 0}, 0},
		{jmath.IVec3{1, 0, 0}, 0},
		{jmath.IVec3{0, -3, 2}, 1},
		{jmath.IVec3{1, 1, -2}, 2},
		{jmath.IVec3{2, -2, 2}, 0},
		{jmath.IVec3{0, 4, -4}, 1},
	}
	for _, test := range tests {
		require.Equal(t, test.want, DominantAxis(test.v), "%v", test.v)
	}
}

func TestUpdateScheduleDue(t *testing.T) {
	s := UpdateSchedule{Frequency: 15, Offset: 5}
	require.False(t, s.Due(0))
	require.True(t, s.Due(5))
	require.True(t, s.Due(20))
	require.False(t, s.Due(21))
	require.True(t, UpdateSchedule{Frequency: 1}.Due(12345))
}
