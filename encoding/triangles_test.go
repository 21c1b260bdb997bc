// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package encoding

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/jmath"
)

// soup returns n triangles whose vertices all have x set to tag.
func soup(n int, tag float32) []ms3.Vec {
	out := make([]ms3.Vec, 0, n*3)
	for i := range n {
		for j := range 3 {
			out = append(out, ms3.Vec{X: tag, Y: float32(i), Z: float32(j)})
		}
	}
	return out
}

func requireContiguous(t *testing.T, s *TriangleStore) {
	t.Helper()
	var total uint32
	for _, id := range s.order {
		sp := s.spans[id]
		require.Equal(t, total, sp.Offset, "mesh %s", id)
		total += sp.Count
	}
	require.Equal(t, uint32(s.Len()), total)
	require.Len(t, s.Positions(), int(total)*3)
}

func TestTriangleStoreRemoveThenAdd(t *testing.T) {
	s := NewTriangleStore(64)
	a, b, c := NewMeshID(), NewMeshID(), NewMeshID()

	_, err := s.Set(a, soup(2, 1), nil)
	require.NoError(t, err)
	_, err = s.Set(b, soup(3, 2), nil)
	require.NoError(t, err)
	requireContiguous(t, s)

	require.NoError(t, s.Remove(a))
	_, err = s.Set(c, soup(1, 3), nil)
	require.NoError(t, err)
	requireContiguous(t, s)

	sb, ok := s.Span(b)
	require.True(t, ok)
	require.Equal(t, Span{Offset: 0, Count: 3}, sb)
	sc, ok := s.Span(c)
	require.True(t, ok)
	require.Equal(t, Span{Offset: 3, Count: 1}, sc)
	_, ok = s.Span(a)
	require.False(t, ok)

	pos := s.Positions()
	for i := range 9 {
		require.Equal(t, float32(2), pos[i][0])
	}
	for i := 9; i < 12; i++ {
		require.Equal(t, float32(3), pos[i][0])
	}
	require.Equal(t, float32(1), pos[0][3])
}

func TestTriangleStoreInPlaceUpdate(t *testing.T) {
	s := NewTriangleStore(64)
	a, b := NewMeshID(), NewMeshID()
	_, err := s.Set(a, soup(2, 1), nil)
	require.NoError(t, err)
	_, err = s.Set(b, soup(1, 2), nil)
	require.NoError(t, err)
	gen, ver := s.Generation(), s.Version()

	// Same triangle count: rewritten in place.
	_, err = s.Set(a, soup(2, 5), nil)
	require.NoError(t, err)
	require.Equal(t, gen, s.Generation())
	require.Equal(t, ver+1, s.Version())
	sa, _ := s.Span(a)
	require.Equal(t, Span{Offset: 0, Count: 2}, sa)
	require.Equal(t, float32(5), s.Positions()[0][0])

	// Different count: moved to the end.
	_, err = s.Set(a, soup(3, 6), nil)
	require.NoError(t, err)
	require.Equal(t, gen+1, s.Generation())
	requireContiguous(t, s)
	sa, _ = s.Span(a)
	require.Equal(t, Span{Offset: 1, Count: 3}, sa)
	require.Equal(t, []MeshID{b, a}, s.order)
}

func TestTriangleStoreIndices(t *testing.T) {
	s := NewTriangleStore(64)
	quad := []ms3.Vec{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}}
	n, err := s.Set(NewMeshID(), quad, []uint32{0, 1, 2, 0, 2, 3, 0, 9, 1, 2, 3})
	require.NoError(t, err)
	// One triangle references a missing vertex and one is partial.
	require.Equal(t, 2, n)
	require.Equal(t, [4]float32{1, 1, 0, 1}, s.Positions()[4])
}

func TestTriangleStoreCapacity(t *testing.T) {
	s := NewTriangleStore(4)
	n, err := s.Set(NewMeshID(), soup(3, 1), nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = s.Set(NewMeshID(), soup(3, 2), nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 4, s.Len())
	requireContiguous(t, s)
}

func TestTriangleStoreErrors(t *testing.T) {
	s := NewTriangleStore(4)
	err := s.Remove(NewMeshID())
	require.Error(t, err)
	require.Equal(t, ErrUnknownMesh, errors.Type(err))

	bad := soup(1, 1)
	bad[1].Y = math32.NaN()
	_, err = s.Set(NewMeshID(), bad, nil)
	require.Error(t, err)
	require.Equal(t, ErrInvalidMesh, errors.Type(err))
	require.Zero(t, s.Len())
	require.Zero(t, s.Generation())
}

func TestEncoding(t *testing.T) {
	var enc Encoding
	require.True(t, enc.IsEmpty())
	enc.EncodeInstance(jmath.Identity, Span{Offset: 4, Count: 2})
	enc.EncodeInstance(jmath.Identity, Span{Offset: 0, Count: 0})
	enc.EncodeInstance(jmath.Identity, Span{Offset: 0, Count: 3})
	require.Len(t, enc.Instances, 2)
	require.Equal(t, uint32(5), enc.NumTriangles)
	require.Equal(t, uint32(2), enc.Instances[1].Base)

	var outer Encoding
	outer.EncodeInstance(jmath.Identity, Span{Offset: 9, Count: 1})
	shift := jmath.Translation(ms3.Vec{X: 1})
	outer.Append(&enc, shift)
	require.Len(t, outer.Instances, 3)
	require.Equal(t, uint32(6), outer.NumTriangles)
	require.Equal(t, uint32(3), outer.Instances[2].Base)
	require.Equal(t, shift, outer.Instances[1].Transform)

	for tri, want := range []int{0, 1, 1, 2, 2, 2} {
		require.Equal(t, want, FindInstance(outer.Instances, uint32(tri)), "triangle %d", tri)
	}
}
