// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu_engine executes recordings on the CPU. Recordings are run in
// submission order by a single queue goroutine, which spreads the workgroups
// of each dispatch across a pool of workers.
package cpu_engine

import (
	"fmt"
	"math"
	"math/bits"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"honnef.co/go/safeish"
	"honnef.co/go/scenesdf/engine/shaders"
	"honnef.co/go/scenesdf/engine/shaders/cpu"
	"honnef.co/go/scenesdf/mem"
	"honnef.co/go/scenesdf/profiler"
	"honnef.co/go/scenesdf/renderer"
)

// Number of submissions that may be queued before RunRecording blocks.
const queueDepth = 4

type Options struct {
	// Number of goroutines executing workgroups. Defaults to GOMAXPROCS.
	Workers int
	// Defer building shaders until BuildShaders is called, so that it can
	// happen in the background. Until then, Ready reports false.
	ParallelInitialization bool
}

type shader struct {
	Label    string
	Bindings []renderer.BindType
	kernel   cpu.Kernel
	ready    atomic.Bool
}

type Engine struct {
	shaders     []*shader
	toBuild     []*shader
	fullShaders *renderer.FullShaders
	workers     int

	Profiler *Profiler

	queue   chan *submission
	pending sync.WaitGroup

	mu          sync.Mutex
	submissions []*submission

	// The fields below are owned by the queue goroutine while submissions
	// are pending.
	bufs mem.BinaryTreeMap[renderer.ResourceID, []byte]
	pool resourcePool
}

type submission struct {
	arena    *mem.Arena
	commands []renderer.Command
	label    string
	pgroup   *ProfilerGroup
}

type resourcePool struct {
	bufs map[uint64][][]byte
}

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      renderer.BindTypeBuffer,
	shaders.BufReadOnly: renderer.BindTypeBufReadOnly,
	shaders.Uniform:     renderer.BindTypeUniform,
}

func New(options *Options) *Engine {
	workers := options.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eng := &Engine{
		workers:  workers,
		Profiler: NewProfiler(),
		queue:    make(chan *submission, queueDepth),
		pool:     resourcePool{bufs: make(map[uint64][][]byte)},
	}
	if options.ParallelInitialization {
		eng.UseParallelInitialization()
	}
	eng.fullShaders = eng.newFullShaders()
	if !options.ParallelInitialization {
		eng.BuildShaders(1)
	}
	go eng.run()
	return eng
}

// UseParallelInitialization defers building shaders registered from now on
// until BuildShaders is called.
func (eng *Engine) UseParallelInitialization() {
	if eng.toBuild != nil {
		return
	}
	eng.toBuild = []*shader{}
}

func (eng *Engine) newFullShaders() *renderer.FullShaders {
	var out renderer.FullShaders
	outV := reflect.ValueOf(&out).Elem()
	v := reflect.ValueOf(&shaders.Collection)
	for i := range v.Elem().NumField() {
		fieldName := v.Elem().Type().Field(i).Name
		outField := outV.FieldByName(fieldName)
		if !outField.IsValid() {
			continue
		}
		shader := v.Elem().Field(i).Addr().Interface().(*shaders.ComputeShader)
		bindings := make([]renderer.BindType, len(shader.Bindings))
		for i, b := range shader.Bindings {
			bindings[i] = bindTypeMapping[b]
		}
		if shader.CPU == nil {
			panic(fmt.Sprintf("shader %q has no kernel", shader.Name))
		}
		id := eng.addShader(shader.Name, bindings, shader.CPU)
		outField.Set(reflect.ValueOf(id))
	}
	return &out
}

func (eng *Engine) addShader(label string, layout []renderer.BindType, kernel cpu.Kernel) renderer.ShaderID {
	for _, b := range layout {
		switch b {
		case renderer.BindTypeBuffer, renderer.BindTypeBufReadOnly, renderer.BindTypeUniform:
		default:
			panic(fmt.Sprintf("invalid bind type %d", b))
		}
	}
	s := &shader{
		Label:    label,
		Bindings: layout,
		kernel:   kernel,
	}
	id := renderer.ShaderID(len(eng.shaders))
	eng.shaders = append(eng.shaders, s)
	if eng.toBuild != nil {
		eng.toBuild = append(eng.toBuild, s)
	} else {
		s.ready.Store(true)
	}
	return id
}

// BuildShaders builds all shaders whose initialization was deferred, using
// up to numThreads goroutines. It may run concurrently with submissions;
// Ready reports which shaders have been built.
func (eng *Engine) BuildShaders(numThreads int) {
	pending := eng.toBuild
	eng.toBuild = nil
	if len(pending) == 0 {
		return
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	for range max(1, min(numThreads, len(pending))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= len(pending) {
					return
				}
				// A CPU kernel needs no compilation; building it amounts to
				// publishing it.
				pending[i].ready.Store(true)
			}
		}()
	}
	wg.Wait()
}

func (eng *Engine) FullShaders() *renderer.FullShaders { return eng.fullShaders }

// Ready reports whether all of the given shaders can be dispatched.
func (eng *Engine) Ready(ids ...renderer.ShaderID) bool {
	for _, id := range ids {
		if !eng.shaders[id].ready.Load() {
			return false
		}
	}
	return true
}

// Profile starts profiling a submission. It returns a no-op group if too
// many submissions are still being profiled.
func (eng *Engine) Profile(tag uint64) profiler.ProfilerGroup {
	if g := eng.Profiler.Start(tag); g != nil {
		return g
	}
	return profiler.Nop{}
}

// Collect returns the results of completed profiled submissions, in
// submission order.
func (eng *Engine) Collect() []profiler.Result {
	return eng.Profiler.Collect()
}

// RunRecording queues recording for execution. The recording is copied, so
// the caller may reset the arena it was built in once RunRecording returns.
func (eng *Engine) RunRecording(recording *renderer.Recording, label string, pgroup profiler.ProfilerGroup) {
	sub := eng.getSubmission()
	sub.label = label
	if g, ok := pgroup.(*ProfilerGroup); ok && g != nil {
		sub.pgroup = g.root()
		sub.pgroup.submitted()
	}
	arena := sub.arena
	cmds := mem.NewSlice[[]renderer.Command](arena, 0, len(recording.Commands))
	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			cmds = append(cmds, mem.Make(arena, renderer.Upload{
				Buffer: cmd.Buffer,
				Data:   mem.MakeSlice(arena, cmd.Data),
			}))
		case *renderer.UploadUniform:
			cmds = append(cmds, mem.Make(arena, renderer.UploadUniform{
				Buffer: cmd.Buffer,
				Data:   mem.MakeSlice(arena, cmd.Data),
			}))
		case *renderer.Dispatch:
			c := *cmd
			c.Bindings = mem.MakeSlice(arena, cmd.Bindings)
			cmds = append(cmds, mem.Make(arena, c))
		case *renderer.DispatchIndirect:
			c := *cmd
			c.Bindings = mem.MakeSlice(arena, cmd.Bindings)
			cmds = append(cmds, mem.Make(arena, c))
		case *renderer.Download:
			cmds = append(cmds, mem.Make(arena, *cmd))
		case *renderer.Clear:
			cmds = append(cmds, mem.Make(arena, *cmd))
		case *renderer.Fill:
			cmds = append(cmds, mem.Make(arena, *cmd))
		case *renderer.FreeBuffer:
			cmds = append(cmds, mem.Make(arena, *cmd))
		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}
	sub.commands = cmds
	eng.pending.Add(1)
	eng.queue <- sub
}

// Wait blocks until all queued recordings have executed.
func (eng *Engine) Wait() {
	eng.pending.Wait()
}

// Close waits for queued recordings and stops the queue. The engine must not
// be used afterwards.
func (eng *Engine) Close() {
	eng.Wait()
	close(eng.queue)
}

// Buffer returns the memory backing a live buffer. It must only be called
// after Wait, and the result is only valid until the next call to
// RunRecording.
func (eng *Engine) Buffer(proxy renderer.BufferProxy) ([]byte, bool) {
	return eng.bufs.Get(proxy.ID)
}

func (eng *Engine) getSubmission() *submission {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if n := len(eng.submissions); n > 0 {
		sub := eng.submissions[n-1]
		eng.submissions = eng.submissions[:n-1]
		return sub
	}
	return &submission{arena: mem.NewArena()}
}

func (eng *Engine) putSubmission(sub *submission) {
	sub.arena.Reset()
	sub.commands = nil
	sub.pgroup = nil
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.submissions = append(eng.submissions, sub)
}

func (eng *Engine) run() {
	for sub := range eng.queue {
		eng.execute(sub)
		if sub.pgroup != nil {
			sub.pgroup.completed()
		}
		eng.putSubmission(sub)
		eng.pending.Done()
	}
}

func (eng *Engine) execute(sub *submission) {
	for _, cmd := range sub.commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			copy(eng.materialize(cmd.Buffer), cmd.Data)
		case *renderer.UploadUniform:
			copy(eng.materialize(cmd.Buffer), cmd.Data)
		case *renderer.Dispatch:
			wg := cmd.WorkgroupSize
			eng.dispatch(sub, cmd.Shader, wg[0]*wg[1]*wg[2], cmd.Bindings)
		case *renderer.DispatchIndirect:
			buf := eng.materialize(cmd.Buffer)
			count := safeish.Cast[*renderer.IndirectCount](&buf[cmd.Offset])
			eng.dispatch(sub, cmd.Shader, count.X*count.Y*count.Z, cmd.Bindings)
		case *renderer.Download:
			if sub.pgroup != nil {
				sub.pgroup.download(cmd.Buffer.Name, eng.materialize(cmd.Buffer))
			}
		case *renderer.Clear:
			buf := eng.materialize(cmd.Buffer)
			if cmd.Size < 0 {
				clear(buf[cmd.Offset:])
			} else {
				clear(buf[cmd.Offset : cmd.Offset+uint64(cmd.Size)])
			}
		case *renderer.Fill:
			buf := eng.materialize(cmd.Buffer)
			words := safeish.SliceCast[[]uint32](buf)
			for i := range words {
				words[i] = cmd.Value
			}
		case *renderer.FreeBuffer:
			if buf, ok := eng.bufs.Get(cmd.Buffer.ID); ok {
				eng.bufs.Delete(cmd.Buffer.ID)
				eng.pool.putBuf(buf, cmd.Buffer.Size)
			}
		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}
}

// materialize returns the memory backing proxy, allocating it on first use.
func (eng *Engine) materialize(proxy renderer.BufferProxy) []byte {
	if buf, ok := eng.bufs.Get(proxy.ID); ok {
		return buf
	}
	buf := eng.pool.getBuf(proxy.Size)
	eng.bufs.Insert(nil, proxy.ID, buf)
	return buf
}

func (eng *Engine) dispatch(sub *submission, id renderer.ShaderID, numWgs uint32, bindings []renderer.BufferProxy) {
	s := eng.shaders[id]
	if !s.ready.Load() {
		panic(fmt.Sprintf("dispatching shader %q before it was built", s.Label))
	}
	if len(bindings) != len(s.Bindings) {
		panic(fmt.Sprintf("shader %q expects %d bindings, got %d", s.Label, len(s.Bindings), len(bindings)))
	}
	resources := mem.NewSlice[[]cpu.CPUBinding](sub.arena, len(bindings), len(bindings))
	for i, b := range bindings {
		resources[i] = cpu.CPUBuffer(eng.materialize(b))
	}

	start := time.Now()
	if numWgs > 0 {
		eng.parallel(numWgs, func(wg uint32) { s.kernel(wg, resources) })
	}
	if sub.pgroup != nil {
		sub.pgroup.pass(s.Label, start, time.Now())
	}
}

// parallel calls fn for every workgroup in [0, n), spread across the
// engine's workers.
func (eng *Engine) parallel(n uint32, fn func(wg uint32)) {
	workers := min(uint32(eng.workers), n)
	if workers <= 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	var next atomic.Uint32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

func (pool *resourcePool) getBuf(size uint64) []byte {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	if bufVec := pool.bufs[roundedSize]; len(bufVec) > 0 {
		buf := bufVec[len(bufVec)-1]
		pool.bufs[roundedSize] = bufVec[:len(bufVec)-1]
		buf = buf[:size]
		clear(buf)
		return buf
	}
	// Back buffers with uint64s so that kernels can view them as slices of
	// any of the pipeline's types.
	words := make([]uint64, (roundedSize+7)/8)
	return safeish.SliceCast[[]byte](words)[:size]
}

// putBuf returns a buffer obtained from getBuf(size) to the pool.
func (pool *resourcePool) putBuf(buf []byte, size uint64) {
	const sizeClassBits = 1

	class := poolSizeClass(size, sizeClassBits)
	pool.bufs[class] = append(pool.bufs[class], buf)
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}
