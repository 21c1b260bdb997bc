// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package scenesdf

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/soypat/geometry/ms3"
	"github.com/stretchr/testify/require"
	"honnef.co/go/scenesdf/encoding"
	"honnef.co/go/scenesdf/jmath"
)

var sceneClip = ms3.Box{
	Min: ms3.Vec{X: -2, Y: -2, Z: -2},
	Max: ms3.Vec{X: 2, Y: 2, Z: 2},
}

func translated(x float32) jmath.Transform {
	return jmath.Translation(ms3.Vec{X: x})
}

func TestSceneEncodeCulls(t *testing.T) {
	scene := NewScene(64)
	mesh := encoding.NewMeshID()
	_, err := scene.SetMesh(mesh, floor(0, 0.5), nil)
	require.NoError(t, err)

	scene.AddObject(Object{Mesh: mesh, Transform: translated(0)})
	scene.AddObject(Object{Mesh: mesh, Transform: translated(10)})
	scene.AddObject(Object{Mesh: mesh, Transform: translated(-1), Marked: true})

	var enc encoding.Encoding
	require.Equal(t, 2, scene.encode(&enc, []ms3.Box{sceneClip}, FilterUnmarked))
	require.Len(t, enc.Instances, 2)
	require.Equal(t, uint32(4), enc.NumTriangles)
	require.Equal(t, translated(0), enc.Instances[0].Transform)
	require.Equal(t, translated(-1), enc.Instances[1].Transform)

	enc.Reset()
	require.Equal(t, 1, scene.encode(&enc, []ms3.Box{sceneClip}, FilterMarked))
	require.Equal(t, translated(-1), enc.Instances[0].Transform)

	enc.Reset()
	require.Zero(t, scene.encode(&enc, nil, FilterUnmarked))
	require.True(t, enc.IsEmpty())
}

func TestSceneTracksMeshChanges(t *testing.T) {
	scene := NewScene(64)
	mesh := encoding.NewMeshID()
	_, err := scene.SetMesh(mesh, floor(0, 0.5), nil)
	require.NoError(t, err)
	id := scene.AddObject(Object{Mesh: mesh, Transform: translated(3)})

	var enc encoding.Encoding
	require.Zero(t, scene.encode(&enc, []ms3.Box{sceneClip}, FilterUnmarked))

	// Growing the mesh brings the object's bounds into the clip box.
	_, err = scene.SetMesh(mesh, floor(0, 2), nil)
	require.NoError(t, err)
	require.Equal(t, 1, scene.encode(&enc, []ms3.Box{sceneClip}, FilterUnmarked))

	// Moving the object away takes it out again.
	enc.Reset()
	require.NoError(t, scene.SetObject(id, Object{Mesh: mesh, Transform: translated(8)}))
	require.Zero(t, scene.encode(&enc, []ms3.Box{sceneClip}, FilterUnmarked))

	// Objects whose mesh is gone don't contribute.
	require.NoError(t, scene.SetObject(id, Object{Mesh: mesh, Transform: translated(0)}))
	require.NoError(t, scene.RemoveMesh(mesh))
	require.Zero(t, scene.encode(&enc, []ms3.Box{sceneClip}, FilterUnmarked))
	require.Equal(t, 1, scene.NumObjects())
}

func TestSceneObjects(t *testing.T) {
	scene := NewScene(64)
	mesh := encoding.NewMeshID()
	a := scene.AddObject(Object{Mesh: mesh, Transform: translated(1)})
	b := scene.AddObject(Object{Mesh: mesh, Transform: translated(2)})
	c := scene.AddObject(Object{Mesh: mesh, Transform: translated(3)})

	require.True(t, scene.RemoveObject(a))
	require.False(t, scene.RemoveObject(a))
	require.Equal(t, 2, scene.NumObjects())

	for id, x := range map[ObjectID]float32{b: 2, c: 3} {
		o, ok := scene.Object(id)
		require.True(t, ok)
		require.Equal(t, translated(x), o.Transform)
	}
	_, ok := scene.Object(a)
	require.False(t, ok)

	err := scene.SetObject(ObjectID(uuid.New()), Object{})
	require.Error(t, err)
	require.Equal(t, ErrUnknownObject, errors.Type(err))
}

func TestBounds(t *testing.T) {
	require.Equal(t, ms3.Box{}, bounds(nil))
	b := bounds([]ms3.Vec{{X: 1, Y: -2, Z: 3}, {X: -1, Y: 4, Z: 0}})
	require.Equal(t, ms3.Box{
		Min: ms3.Vec{X: -1, Y: -2, Z: 0},
		Max: ms3.Vec{X: 1, Y: 4, Z: 3},
	}, b)
}
