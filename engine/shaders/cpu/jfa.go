// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"honnef.co/go/scenesdf/renderer"
)

// nearestSubvoxel returns the seed of the occupied subvoxel in mask closest
// to the voxel's center. Ties go to the lowest bit.
func nearestSubvoxel(mask uint64, s uint32) renderer.Seed {
	if mask == 0 {
		return renderer.EmptySeed
	}
	best := renderer.EmptySeed
	bestD := best.DistanceSquared(s)
	var bit uint
	for z := range s {
		for y := range s {
			for x := range s {
				if mask&(1<<bit) != 0 {
					seed := renderer.Seed{X: int16(2*x + 1), Y: int16(2*y + 1), Z: int16(2*z + 1)}
					if d := seed.DistanceSquared(s); d < bestD {
						best, bestD = seed, d
					}
				}
				bit++
			}
		}
	}
	return best
}

// JFAInit turns the occupancy of each voxel of a redraw tile into its
// initial seed.
func JFAInit(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	seeds := sliceOf[[]uint64](resources[1])
	dst := sliceOf[[]renderer.Seed](resources[2])

	s := config.SubvoxelsPerVoxelDim
	tileVoxels(config, config.RegionTile(wg), func(_ uint32, v [3]int32) {
		dst[config.RegionVoxelIndex(v)] = nearestSubvoxel(seeds[config.PhysicalVoxelIndex(v)], s)
	})
}

// JFA runs one jump flood pass over a redraw tile: every voxel adopts the
// seed of any of its 26 neighbors at the pass's step distance if that seed
// is closer than its own. Neighbors outside the redraw region contribute the
// seeds of earlier updates; neighbors outside the window are ignored.
func JFA(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	step := fromBytes[renderer.JumpStep](resources[1])
	offsets := sliceOf[[]renderer.Seed](resources[2])
	src := sliceOf[[]renderer.Seed](resources[3])
	dst := sliceOf[[]renderer.Seed](resources[4])

	s := config.SubvoxelsPerVoxelDim
	vpa := int32(config.VoxelsPerAxis())
	k := int32(step.Step)
	tileVoxels(config, config.RegionTile(wg), func(_ uint32, v [3]int32) {
		ri := config.RegionVoxelIndex(v)
		best := src[ri]
		bestD := best.DistanceSquared(s)
		for dz := int32(-1); dz <= 1; dz++ {
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					d := [3]int32{dx * k, dy * k, dz * k}
					n := [3]int32{v[0] + d[0], v[1] + d[1], v[2] + d[2]}
					if n[0] < 0 || n[1] < 0 || n[2] < 0 || n[0] >= vpa || n[1] >= vpa || n[2] >= vpa {
						continue
					}
					var seed renderer.Seed
					if config.InRegion(n) {
						seed = src[config.RegionVoxelIndex(n)]
					} else {
						seed = offsets[config.PhysicalVoxelIndex(n)]
					}
					if seed.Empty() {
						continue
					}
					seed = seed.Rebase(d, s)
					if dist := seed.DistanceSquared(s); dist < bestD {
						best, bestD = seed, dist
					}
				}
			}
		}
		dst[ri] = best
		if step.Final != 0 {
			offsets[config.PhysicalVoxelIndex(v)] = best
		}
	})
}

// Stitch is a step-1 jump flood pass that carries seeds across tile
// boundaries the larger steps jumped over. Its final pass writes the result
// to the persistent seed offsets.
func Stitch(wg uint32, resources []CPUBinding) {
	JFA(wg, resources)
}

// Extract converts the seeds of a redraw tile into signed distances, in
// voxel units, and writes them to the cascade's part of the output volume.
// Voxels with occupied subvoxels are inside and come out non-positive. Voxels
// without a seed get the window size.
func Extract(wg uint32, resources []CPUBinding) {
	config := fromBytes[renderer.ConfigUniform](resources[0])
	seeds := sliceOf[[]uint64](resources[1])
	offsets := sliceOf[[]renderer.Seed](resources[2])
	output := sliceOf[[]float32](resources[3])

	s := config.SubvoxelsPerVoxelDim
	far := float32(config.VoxelsPerAxis())
	tileVoxels(config, config.RegionTile(wg), func(_ uint32, v [3]int32) {
		i := config.PhysicalVoxelIndex(v)
		seed := offsets[i]
		d := far
		if !seed.Empty() {
			d = max(min(seed.Distance(s, seeds[i] != 0), far), -far)
		}
		output[config.OutputVoxelIndex(v)] = d
	})
}
