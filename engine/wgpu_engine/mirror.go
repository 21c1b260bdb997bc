// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgpu_engine makes the distance volume available to GPU consumers.
//
// The caller owns the wgpu device and queue, creates them the way its
// renderer does, and hands them to NewVolumeMirror. The mirror is then passed
// to Pipeline.Flush once per frame.
package wgpu_engine

import (
	"unsafe"

	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf"
	"honnef.co/go/scenesdf/renderer"
	"honnef.co/go/wgpu"
)

var _ scenesdf.VolumeSink = (*VolumeMirror)(nil)

// VolumeMirror keeps a 3D R32Float texture and a storage buffer of cascade
// headers in sync with a pipeline's output. Consumers bind View and Headers
// to ray march the distance field.
type VolumeMirror struct {
	Device  *wgpu.Device
	Queue   *wgpu.Queue
	Texture *wgpu.Texture
	View    *wgpu.TextureView
	Headers *wgpu.Buffer

	extent     [3]uint32
	numHeaders int
}

// NewVolumeMirror returns a mirror that allocates its resources on dev. No
// texture exists until the first Flush resizes it.
func NewVolumeMirror(dev *wgpu.Device, queue *wgpu.Queue) *VolumeMirror {
	return &VolumeMirror{
		Device: dev,
		Queue:  queue,
	}
}

// Resize recreates the texture and header buffer if their sizes changed.
func (m *VolumeMirror) Resize(extent [3]uint32, numCascades int) {
	if extent != m.extent || m.Texture == nil {
		m.releaseTexture()
		m.extent = extent
		m.Texture = m.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "sdf volume",
			Size: wgpu.Extent3D{
				Width:              extent[0],
				Height:             extent[1],
				DepthOrArrayLayers: extent[2],
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension3D,
			Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
			Format:        wgpu.TextureFormatR32Float,
		})
		m.View = m.Texture.CreateView(&wgpu.TextureViewDescriptor{
			Dimension:       wgpu.TextureViewDimension3D,
			Aspect:          wgpu.TextureAspectAll,
			MipLevelCount:   ^uint32(0),
			ArrayLayerCount: ^uint32(0),
			BaseMipLevel:    0,
			BaseArrayLayer:  0,
			Format:          wgpu.TextureFormatR32Float,
		})
	}
	if numCascades != m.numHeaders || m.Headers == nil {
		if m.Headers != nil {
			m.Headers.Release()
		}
		m.numHeaders = numCascades
		m.Headers = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "sdf cascade headers",
			Size:  uint64(max(numCascades, 1)) * uint64(unsafe.Sizeof(renderer.CascadeHeader{})),
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		})
	}
}

// WriteSlab uploads a box of distances, stored x-major, at origin.
func (m *VolumeMirror) WriteSlab(origin, extent [3]uint32, data []float32) {
	m.Queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  m.Texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: origin[0], Y: origin[1], Z: origin[2]},
			Aspect:   wgpu.TextureAspectAll,
		},
		safeish.SliceCast[[]byte](data),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  extent[0] * 4,
			RowsPerImage: extent[1],
		},
		&wgpu.Extent3D{
			Width:              extent[0],
			Height:             extent[1],
			DepthOrArrayLayers: extent[2],
		},
	)
}

func (m *VolumeMirror) WriteHeaders(headers []renderer.CascadeHeader) {
	if len(headers) == 0 {
		return
	}
	m.Queue.WriteBuffer(m.Headers, 0, safeish.SliceCast[[]byte](headers))
}

func (m *VolumeMirror) releaseTexture() {
	if m.View != nil {
		m.View.Release()
		m.View = nil
	}
	if m.Texture != nil {
		m.Texture.Release()
		m.Texture = nil
	}
}

func (m *VolumeMirror) Release() {
	m.releaseTexture()
	if m.Headers != nil {
		m.Headers.Release()
		m.Headers = nil
	}
}
