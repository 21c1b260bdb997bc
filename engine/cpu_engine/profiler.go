// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"bytes"
	"sync"
	"time"

	"honnef.co/go/scenesdf/profiler"
)

// Number of submissions that can be profiled at once.
const profilerSlots = 10

// Profiler times submissions. Results become available once the queue has
// executed all of a group's submissions and are returned in the order the
// groups were started.
type Profiler struct {
	// started groups that haven't been collected yet, in order of creation
	groups []*ProfilerGroup
	// free list of top-level groups
	freeGroups []*ProfilerGroup
	// free list of nested groups
	freeChildren []*ProfilerGroup
	// number of top-level groups allocated so far
	allocated int
	// free list of profiler results
	results []profiler.Result
}

func NewProfiler() *Profiler {
	return &Profiler{}
}

// Start starts a top-level group. It returns nil if all slots are in use,
// in which case the submission simply isn't profiled.
func (p *Profiler) Start(tag uint64) *ProfilerGroup {
	if p == nil {
		return nil
	}
	var g *ProfilerGroup
	if n := len(p.freeGroups); n > 0 {
		g = p.freeGroups[n-1]
		p.freeGroups = p.freeGroups[:n-1]
	} else if p.allocated < profilerSlots {
		p.allocated++
		g = &ProfilerGroup{ch: make(chan struct{}, 1)}
	} else {
		return nil
	}
	g.reset()
	g.profiler = p
	g.Tag = tag
	g.cpuStart = time.Now()
	p.groups = append(p.groups, g)
	return g
}

func (p *Profiler) getChild() *ProfilerGroup {
	if n := len(p.freeChildren); n > 0 {
		g := p.freeChildren[n-1]
		p.freeChildren = p.freeChildren[:n-1]
		g.reset()
		return g
	}
	return &ProfilerGroup{}
}

type ProfilerGroup struct {
	Tag      uint64
	Label    string
	cpuStart time.Time
	cpuEnd   time.Time
	children []*ProfilerGroup
	profiler *Profiler
	parent   *ProfilerGroup

	// The fields below are only used by top-level groups.

	mu          sync.Mutex
	outstanding int
	ended       bool
	signaled    bool
	ch          chan struct{}
	// written by the queue, read after ch has been signaled
	passes    []profiler.Pass
	downloads map[string][]byte
}

func (g *ProfilerGroup) reset() {
	clear(g.children)
	g.children = g.children[:0]
	g.Label = ""
	g.cpuEnd = time.Time{}
	g.parent = nil
	g.outstanding = 0
	g.ended = false
	g.signaled = false
	g.passes = g.passes[:0]
	clear(g.downloads)
}

func (g *ProfilerGroup) End() {
	if g == nil {
		return
	}
	if !g.cpuEnd.IsZero() {
		panic("trying to end same group twice")
	}
	g.cpuEnd = time.Now()
	if g.parent == nil {
		g.mu.Lock()
		g.ended = true
		g.signalLocked()
		g.mu.Unlock()
	}
}

func (g *ProfilerGroup) Start(label string) profiler.ProfilerGroup {
	if g == nil {
		return (*ProfilerGroup)(nil)
	}
	return g.Nest(label)
}

func (g *ProfilerGroup) Nest(label string) *ProfilerGroup {
	if g == nil {
		return nil
	}
	cg := g.profiler.getChild()
	cg.profiler = g.profiler
	cg.Label = label
	cg.cpuStart = time.Now()
	cg.parent = g
	g.children = append(g.children, cg)
	return cg
}

func (g *ProfilerGroup) root() *ProfilerGroup {
	for g.parent != nil {
		g = g.parent
	}
	return g
}

func (g *ProfilerGroup) submitted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outstanding++
}

// completed is called by the queue after executing one of the group's
// submissions.
func (g *ProfilerGroup) completed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outstanding--
	g.signalLocked()
}

func (g *ProfilerGroup) signalLocked() {
	if g.ended && g.outstanding == 0 && !g.signaled {
		g.signaled = true
		g.ch <- struct{}{}
	}
}

func (g *ProfilerGroup) pass(label string, start, end time.Time) {
	g.passes = append(g.passes, profiler.Pass{Label: label, Start: start, End: end})
}

func (g *ProfilerGroup) download(name string, data []byte) {
	if g.downloads == nil {
		g.downloads = make(map[string][]byte)
	}
	g.downloads[name] = bytes.Clone(data)
}

func (p *Profiler) populateResult(g *ProfilerGroup, res *profiler.Result) {
	// Don't use *res = profiler.Result{...} so that we reuse res.Children and
	// res.Passes.
	res.Tag = g.Tag
	res.Label = g.Label
	res.CPUStart = g.cpuStart
	res.CPUEnd = g.cpuEnd
	res.Passes = append(res.Passes[:0], g.passes...)
	if len(g.downloads) > 0 {
		if res.Downloads == nil {
			res.Downloads = make(map[string][]byte, len(g.downloads))
		}
		clear(res.Downloads)
		for k, v := range g.downloads {
			res.Downloads[k] = v
		}
	} else {
		res.Downloads = nil
	}
	if cap(res.Children) >= len(g.children) {
		res.Children = res.Children[:len(g.children)]
	} else {
		res.Children = make([]profiler.Result, len(g.children))
	}
	for ci, c := range g.children {
		p.populateResult(c, &res.Children[ci])
	}
}

func (p *Profiler) release(g *ProfilerGroup) {
	var releaseChildren func(gs []*ProfilerGroup)
	releaseChildren = func(gs []*ProfilerGroup) {
		for _, c := range gs {
			releaseChildren(c.children)
			p.freeChildren = append(p.freeChildren, c)
		}
	}
	releaseChildren(g.children)
	p.freeGroups = append(p.freeGroups, g)
}

// Collect returns all available profiler results without blocking. The
// return value is only valid until the next call to Collect.
func (p *Profiler) Collect() []profiler.Result {
	if p == nil {
		return nil
	}
	out := p.results[:0]
	n := 0
loop:
	for _, g := range p.groups {
		select {
		case <-g.ch:
			if cap(out) > len(out) {
				out = out[:len(out)+1]
			} else {
				out = append(out, profiler.Result{})
			}
			p.populateResult(g, &out[len(out)-1])
			n++
		default:
			// We stop at the first missing group so that we return groups in
			// order of creation.
			break loop
		}
	}
	for _, g := range p.groups[:n] {
		p.release(g)
	}
	copy(p.groups, p.groups[n:])
	clear(p.groups[len(p.groups)-n:])
	p.groups = p.groups[:len(p.groups)-n]
	p.results = out[:0]
	return out
}
