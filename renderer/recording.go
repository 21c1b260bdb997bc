// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"sync/atomic"

	"honnef.co/go/scenesdf/mem"
)

var resourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(resourceID.Add(1))
}

type ResourceID uint64

// Recording is an ordered list of commands for an engine to execute. Stages
// run in the order they were recorded and each sees the writes of all
// previous ones.
type Recording struct {
	Commands []Command
}

func (rec *Recording) push(arena *mem.Arena, cmd Command) {
	rec.Commands = mem.Append(arena, rec.Commands, cmd)
}

// Upload creates a buffer holding data.
func (rec *Recording) Upload(arena *mem.Arena, name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(arena, mem.Make(arena, Upload{buf, data}))
	return buf
}

// UploadTo writes data to the start of an existing buffer, creating the
// buffer if the engine hasn't seen it yet.
func (rec *Recording) UploadTo(arena *mem.Arena, buf BufferProxy, data []byte) {
	rec.push(arena, mem.Make(arena, Upload{buf, data}))
}

func (rec *Recording) UploadUniform(arena *mem.Arena, name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name)
	rec.push(arena, mem.Make(arena, UploadUniform{buf, data}))
	return buf
}

func (rec *Recording) Dispatch(arena *mem.Arena, shader ShaderID, wgSize WorkgroupSize, resources []BufferProxy) {
	rec.push(arena, mem.Make(arena, Dispatch{shader, wgSize, resources}))
}

// DispatchIndirect dispatches shader with the workgroup counts stored at
// offset in buf, as an IndirectCount.
func (rec *Recording) DispatchIndirect(
	arena *mem.Arena,
	shader ShaderID,
	buf BufferProxy,
	offset uint64,
	resources []BufferProxy,
) {
	rec.push(arena, mem.Make(arena, DispatchIndirect{shader, buf, offset, resources}))
}

// Download copies the contents of buf to the host once the recording has
// executed.
func (rec *Recording) Download(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, Download{buf}))
}

func (rec *Recording) ClearAll(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, Clear{buf, 0, -1}))
}

// Fill sets every 32-bit word of buf to value.
func (rec *Recording) Fill(arena *mem.Arena, buf BufferProxy, value uint32) {
	rec.push(arena, mem.Make(arena, Fill{buf, value}))
}

func (rec *Recording) FreeBuffer(arena *mem.Arena, buf BufferProxy) {
	rec.push(arena, mem.Make(arena, FreeBuffer{buf}))
}

// Shaders returns the shaders dispatched by the recording.
func (rec *Recording) Shaders(arena *mem.Arena) []ShaderID {
	var out []ShaderID
	for _, cmd := range rec.Commands {
		switch cmd := cmd.(type) {
		case *Dispatch:
			out = mem.Append(arena, out, cmd.Shader)
		case *DispatchIndirect:
			out = mem.Append(arena, out, cmd.Shader)
		}
	}
	return out
}

func NewBufferProxy(size uint64, name string) BufferProxy {
	id := nextResourceID()
	return BufferProxy{size, id, name}
}

// NewTypedBufferProxy returns a proxy for a buffer of the given size.
func NewTypedBufferProxy[T any](size BufferSize[T], name string) BufferProxy {
	return NewBufferProxy(size.SizeInBytes(), name)
}

type BufferProxy struct {
	Size uint64
	ID   ResourceID
	Name string
}

type ShaderID int

type Command interface {
	isCommand()
}

func (*Upload) isCommand()           {}
func (*UploadUniform) isCommand()    {}
func (*Dispatch) isCommand()         {}
func (*DispatchIndirect) isCommand() {}
func (*Download) isCommand()         {}
func (*Clear) isCommand()            {}
func (*Fill) isCommand()             {}
func (*FreeBuffer) isCommand()       {}

type BindType int

const (
	BindTypeBuffer BindType = iota + 1
	BindTypeBufReadOnly
	BindTypeUniform
)

type Upload struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadUniform struct {
	Buffer BufferProxy
	Data   []byte
}

type Dispatch struct {
	Shader        ShaderID
	WorkgroupSize WorkgroupSize
	Bindings      []BufferProxy
}

type DispatchIndirect struct {
	Shader   ShaderID
	Buffer   BufferProxy
	Offset   uint64
	Bindings []BufferProxy
}

type Download struct {
	Buffer BufferProxy
}

type Clear struct {
	Buffer BufferProxy
	Offset uint64
	Size   int64
}

type Fill struct {
	Buffer BufferProxy
	Value  uint32
}

type FreeBuffer struct {
	Buffer BufferProxy
}
