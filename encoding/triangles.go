// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package encoding

import (
	"slices"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/soypat/geometry/ms3"
)

const (
	ErrInvalidMesh = "invalid_mesh"
	ErrUnknownMesh = "unknown_mesh"
)

// MeshID identifies a mesh in a TriangleStore.
type MeshID uuid.UUID

func NewMeshID() MeshID { return MeshID(uuid.New()) }

func (id MeshID) String() string { return uuid.UUID(id).String() }

// Span locates a mesh's triangles in the store, in units of triangles.
type Span struct {
	Offset uint32
	Count  uint32
}

// TriangleStore flattens meshes into one contiguous buffer of triangles,
// three homogeneous vertices each. Meshes are packed in insertion order and
// the buffer is compacted whenever a mesh is removed.
type TriangleStore struct {
	maxTriangles uint32
	positions    [][4]float32
	spans        map[MeshID]Span
	// Meshes in storage order.
	order []MeshID

	generation uint64
	version    uint64

	scratch [][4]float32
}

func NewTriangleStore(maxTriangles uint32) *TriangleStore {
	return &TriangleStore{
		maxTriangles: maxTriangles,
		spans:        make(map[MeshID]Span),
	}
}

// Generation counts structural changes, that is, meshes being added, removed
// or changing their number of triangles.
func (s *TriangleStore) Generation() uint64 { return s.generation }

// Version counts all changes to the stored triangles.
func (s *TriangleStore) Version() uint64 { return s.version }

// Len returns the number of stored triangles.
func (s *TriangleStore) Len() int { return len(s.positions) / 3 }

func (s *TriangleStore) NumMeshes() int { return len(s.order) }

// Positions returns the flattened vertices, three per triangle. The slice is
// only valid until the next modification of the store.
func (s *TriangleStore) Positions() [][4]float32 { return s.positions }

func (s *TriangleStore) Span(id MeshID) (Span, bool) {
	sp, ok := s.spans[id]
	return sp, ok
}

// Set stores the triangles of a mesh, replacing any triangles previously
// stored for id. With a nil index list, every three positions form a
// triangle. Triangles referencing out-of-range indices are skipped, as is a
// trailing partial triangle. Triangles that don't fit into the store are
// dropped; Set returns the number of triangles it stored.
func (s *TriangleStore) Set(id MeshID, positions []ms3.Vec, indices []uint32) (int, error) {
	for i, p := range positions {
		if !finite(p) {
			return 0, errors.New("mesh has non-finite vertex position").
				WithType(ErrInvalidMesh).
				WithTag("mesh", id).
				WithTag("vertex", i)
		}
	}

	tris := expand(s.scratch[:0], positions, indices)
	s.scratch = tris[:0]
	count := uint32(len(tris) / 3)

	if old, ok := s.spans[id]; ok {
		if old.Count == count {
			copy(s.positions[old.Offset*3:], tris)
			s.version++
			return int(count), nil
		}
		s.remove(id, old)
	}

	free := s.maxTriangles - uint32(s.Len())
	count = min(count, free)
	sp := Span{Offset: uint32(s.Len()), Count: count}
	s.positions = append(s.positions, tris[:count*3]...)
	s.spans[id] = sp
	s.order = append(s.order, id)
	s.generation++
	s.version++
	return int(count), nil
}

// Remove deletes a mesh and compacts the store.
func (s *TriangleStore) Remove(id MeshID) error {
	sp, ok := s.spans[id]
	if !ok {
		return errors.New("mesh not found").
			WithType(ErrUnknownMesh).
			WithTag("mesh", id)
	}
	s.remove(id, sp)
	s.generation++
	s.version++
	return nil
}

func (s *TriangleStore) remove(id MeshID, sp Span) {
	start := sp.Offset * 3
	end := start + sp.Count*3
	s.positions = slices.Delete(s.positions, int(start), int(end))
	delete(s.spans, id)

	idx := slices.Index(s.order, id)
	s.order = slices.Delete(s.order, idx, idx+1)
	for _, later := range s.order[idx:] {
		lsp := s.spans[later]
		lsp.Offset -= sp.Count
		s.spans[later] = lsp
	}
}

func expand(dst [][4]float32, positions []ms3.Vec, indices []uint32) [][4]float32 {
	vertex := func(p ms3.Vec) [4]float32 { return [4]float32{p.X, p.Y, p.Z, 1} }
	if indices == nil {
		for i := 0; i+3 <= len(positions); i += 3 {
			dst = append(dst, vertex(positions[i]), vertex(positions[i+1]), vertex(positions[i+2]))
		}
		return dst
	}
	n := uint32(len(positions))
	for i := 0; i+3 <= len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if a >= n || b >= n || c >= n {
			continue
		}
		dst = append(dst, vertex(positions[a]), vertex(positions[b]), vertex(positions[c]))
	}
	return dst
}

func finite(p ms3.Vec) bool {
	for _, f := range [3]float32{p.X, p.Y, p.Z} {
		if math32.IsNaN(f) || math32.IsInf(f, 0) {
			return false
		}
	}
	return true
}
