// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package scenesdf

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
	"honnef.co/go/scenesdf/renderer"
)

const ErrUnknownObject = "unknown_object"

// ObjectID identifies an object in a Scene.
type ObjectID uuid.UUID

func (id ObjectID) String() string { return uuid.UUID(id).String() }

// Object places a mesh in the world.
type Object struct {
	Mesh      encoding.MeshID
	Transform jmath.Transform
	// Marked objects pass FilterMarked.
	Marked bool
}

type sceneObject struct {
	Object
	id ObjectID
	// World-space bounds, valid if boundsVersion matches the mesh's.
	obb           renderer.OBB
	boundsVersion uint64
}

type meshInfo struct {
	bounds ms3.Box
	// Changes whenever the mesh's triangles change.
	version uint64
}

// Scene is the geometry the pipeline voxelizes: meshes stored in a triangle
// store and objects instancing them.
type Scene struct {
	Triangles *encoding.TriangleStore

	meshes map[encoding.MeshID]*meshInfo
	// source of mesh versions, unique across meshes
	versions uint64
	objects  []*sceneObject
	index    map[ObjectID]int

	// reused by encode
	obbs    []renderer.OBB
	owners  []*sceneObject
	visible []int
}

func NewScene(maxTriangles uint32) *Scene {
	return &Scene{
		Triangles: encoding.NewTriangleStore(maxTriangles),
		meshes:    make(map[encoding.MeshID]*meshInfo),
		index:     make(map[ObjectID]int),
	}
}

// SetMesh stores a mesh's triangles, replacing any previous version. See
// encoding.TriangleStore.Set for the meaning of indices.
func (s *Scene) SetMesh(id encoding.MeshID, positions []ms3.Vec, indices []uint32) (int, error) {
	n, err := s.Triangles.Set(id, positions, indices)
	if err != nil {
		return 0, err
	}
	info, ok := s.meshes[id]
	if !ok {
		info = &meshInfo{}
		s.meshes[id] = info
	}
	s.versions++
	info.bounds = bounds(positions)
	info.version = s.versions
	return n, nil
}

// RemoveMesh removes a mesh. Objects instancing it stay in the scene but
// don't contribute until the mesh is set again.
func (s *Scene) RemoveMesh(id encoding.MeshID) error {
	if err := s.Triangles.Remove(id); err != nil {
		return err
	}
	delete(s.meshes, id)
	return nil
}

func (s *Scene) AddObject(o Object) ObjectID {
	id := ObjectID(uuid.New())
	s.index[id] = len(s.objects)
	s.objects = append(s.objects, &sceneObject{Object: o, id: id})
	return id
}

func (s *Scene) Object(id ObjectID) (Object, bool) {
	i, ok := s.index[id]
	if !ok {
		return Object{}, false
	}
	return s.objects[i].Object, true
}

// SetObject replaces an object's mesh, transform or mark.
func (s *Scene) SetObject(id ObjectID, o Object) error {
	i, ok := s.index[id]
	if !ok {
		return errors.New("unknown object").
			WithType(ErrUnknownObject).
			WithTag("object", id.String())
	}
	obj := s.objects[i]
	if obj.Mesh != o.Mesh || obj.Transform != o.Transform {
		obj.boundsVersion = 0
	}
	obj.Object = o
	return nil
}

func (s *Scene) RemoveObject(id ObjectID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	last := len(s.objects) - 1
	s.objects[i] = s.objects[last]
	s.index[s.objects[i].id] = i
	s.objects[last] = nil
	s.objects = s.objects[:last]
	delete(s.index, id)
	return true
}

func (s *Scene) NumObjects() int { return len(s.objects) }

// encode appends to enc the objects that pass filter and intersect any of
// the clip boxes, and returns how many there were.
func (s *Scene) encode(enc *encoding.Encoding, clips []ms3.Box, filter ExtractionFilter) int {
	s.obbs = s.obbs[:0]
	s.owners = s.owners[:0]
	for _, obj := range s.objects {
		if !filter.Includes(obj.Marked) {
			continue
		}
		mesh, ok := s.meshes[obj.Mesh]
		if !ok {
			continue
		}
		if obj.boundsVersion != mesh.version {
			obj.obb = renderer.NewOBB(mesh.bounds, obj.Transform)
			obj.boundsVersion = mesh.version
		}
		s.obbs = append(s.obbs, obj.obb)
		s.owners = append(s.owners, obj)
	}

	s.visible = renderer.Cull(s.visible[:0], s.obbs, clips)
	n := 0
	for _, i := range s.visible {
		obj := s.owners[i]
		span, ok := s.Triangles.Span(obj.Mesh)
		if !ok || span.Count == 0 {
			continue
		}
		enc.EncodeInstance(obj.Transform, span)
		n++
	}
	return n
}

func bounds(positions []ms3.Vec) ms3.Box {
	if len(positions) == 0 {
		return ms3.Box{}
	}
	inf := math32.Inf(1)
	b := ms3.Box{
		Min: ms3.Vec{X: inf, Y: inf, Z: inf},
		Max: ms3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
	for _, p := range positions {
		b.Min = ms3.MinElem(b.Min, p)
		b.Max = ms3.MaxElem(b.Max, p)
	}
	return b
}
