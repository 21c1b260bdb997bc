// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler defines how the pipeline brackets its work for timing,
// without depending on a particular engine.
package profiler

import "time"

type ProfilerGroup interface {
	Start(label string) ProfilerGroup
	End()
}

// Nop is a ProfilerGroup that records nothing.
type Nop struct{}

func (Nop) Start(string) ProfilerGroup { return Nop{} }
func (Nop) End()                       {}

// Result is the timing of one profiled submission.
type Result struct {
	Tag      uint64
	Label    string
	CPUStart time.Time
	CPUEnd   time.Time
	// Passes executed by the device, in execution order.
	Passes   []Pass
	Children []Result
	// Buffers downloaded by the submission, keyed by buffer name.
	Downloads map[string][]byte
}

type Pass struct {
	Label string
	Start time.Time
	End   time.Time
}

func (p Pass) Duration() time.Duration { return p.End.Sub(p.Start) }
