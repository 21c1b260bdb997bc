// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders describes the compute stages of the pipeline: their
// names, workgroup sizes and bindings, and the kernels implementing them.
package shaders

import "honnef.co/go/scenesdf/engine/shaders/cpu"

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
)

func (typ BindType) IsMutable() bool {
	return typ == Buffer
}

type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	Bindings      []BindType
	CPU           cpu.Kernel
}

// Collection contains every stage of the pipeline. Engines match its fields
// to the fields of renderer.FullShaders by name.
var Collection = struct {
	CoarseCount   ComputeShader
	CoarseAlloc   ComputeShader
	CoarseScatter ComputeShader
	Fine          ComputeShader
	Blend         ComputeShader
	JFAInit       ComputeShader
	JFA           ComputeShader
	Stitch        ComputeShader
	Extract       ComputeShader
}{
	CoarseCount: ComputeShader{
		Name:          "coarse_count",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer, Buffer, Buffer},
		CPU:           cpu.CoarseCount,
	},
	CoarseAlloc: ComputeShader{
		Name:          "coarse_alloc",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Bindings:      []BindType{Uniform, Buffer, Buffer, Buffer, Buffer},
		CPU:           cpu.CoarseAlloc,
	},
	CoarseScatter: ComputeShader{
		Name:          "coarse_scatter",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer, BufReadOnly, Buffer, Buffer},
		CPU:           cpu.CoarseScatter,
	},
	Fine: ComputeShader{
		Name:          "fine",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, BufReadOnly, Buffer},
		CPU:           cpu.Fine,
	},
	Blend: ComputeShader{
		Name:          "blend",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, BufReadOnly, Buffer},
		CPU:           cpu.Blend,
	},
	JFAInit: ComputeShader{
		Name:          "jfa_init",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer},
		CPU:           cpu.JFAInit,
	},
	JFA: ComputeShader{
		Name:          "jfa",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, Uniform, Buffer, BufReadOnly, Buffer},
		CPU:           cpu.JFA,
	},
	Stitch: ComputeShader{
		Name:          "stitch",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, Uniform, Buffer, BufReadOnly, Buffer},
		CPU:           cpu.Stitch,
	},
	Extract: ComputeShader{
		Name:          "extract",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer},
		CPU:           cpu.Extract,
	},
}
