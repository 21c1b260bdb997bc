// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chewxy/math32"
	"github.com/segmentio/encoding/json"
	"github.com/soypat/geometry/ms3"
	"honnef.co/go/scenesdf"
	"honnef.co/go/scenesdf/renderer"
)

// How often, in frames, stage timings are logged and exported.
const reportInterval = 120

type bench struct {
	conf     config
	pipeline *scenesdf.Pipeline

	viewer  ms3.Vec
	frames  int
	updates int
}

// viewerAt returns the viewer's position after traveling distance along a
// wide figure eight around the scene's center.
func viewerAt(distance float32) ms3.Vec {
	const radius = 24
	t := distance / radius
	return ms3.Vec{
		X: radius * math32.Sin(t),
		Y: radius * math32.Sin(t) * math32.Cos(t),
		Z: 1.7,
	}
}

func (b *bench) run(ctx context.Context) {
	for frame := range b.conf.Frames {
		if ctx.Err() != nil {
			logs.WithTag("frame", frame).Info("run interrupted")
			return
		}
		b.viewer = viewerAt(float32(b.conf.Speed) * float32(frame))
		info := b.pipeline.Update(uint64(frame), b.viewer)
		b.frames++
		if info.Skipped != scenesdf.NotSkipped {
			skippedFrames.WithLabelValues(info.Skipped.String()).Inc()
		} else {
			b.updates++
			cascadeUpdates.WithLabelValues(strconv.Itoa(info.Cascade)).Inc()
		}
		b.collect()
		if frame%reportInterval == reportInterval-1 {
			b.report(frame)
		}
	}
}

func (b *bench) collect() {
	for _, r := range b.pipeline.Collect() {
		if r.Exhausted() {
			exhaustedUpdates.Inc()
		}
		logs.WithTag("frame", r.Frame).
			WithTag("cascade", r.Cascade).
			WithTag("duration", r.Duration.String()).
			WithTag("virtual_tiles", r.Counters.VirtualTiles).
			Debug("cascade update completed")
	}
	for stage, st := range b.pipeline.Stats().All() {
		stageAvg.WithLabelValues(stage).Set(st.Avg.Seconds())
		stageMax.WithLabelValues(stage).Set(st.Max.Seconds())
	}
}

func (b *bench) report(frame int) {
	var total float64
	for _, st := range b.pipeline.Stats().All() {
		total += st.Avg.Seconds()
	}
	logs.WithTag("frame", frame).
		WithTag("updates", b.updates).
		WithTag("viewer", [3]float32{b.viewer.X, b.viewer.Y, b.viewer.Z}).
		WithTag("avg_update_seconds", total).
		Info("progress")
}

type probe struct {
	Position [3]float32 `json:"position"`
	Distance float32    `json:"distance"`
	Found    bool       `json:"found"`
}

type stageDump struct {
	Stage      string  `json:"stage"`
	AvgSeconds float64 `json:"avg_seconds"`
	MaxSeconds float64 `json:"max_seconds"`
	Samples    uint64  `json:"samples"`
}

type dump struct {
	Viewer  [3]float32               `json:"viewer"`
	Extent  [3]uint32                `json:"extent"`
	Headers []renderer.CascadeHeader `json:"headers"`
	Probes  []probe                  `json:"probes"`
	Stages  []stageDump              `json:"stages"`
}

// writeDump writes the cascade headers, timings and distance samples along
// a ray from the viewer to path.
func writeDump(path string, p *scenesdf.Pipeline, viewer ms3.Vec) error {
	out := p.Output()
	d := dump{
		Viewer:  [3]float32{viewer.X, viewer.Y, viewer.Z},
		Extent:  out.Extent,
		Headers: out.Headers,
	}
	dir := ms3.Unit(ms3.Vec{X: 1, Y: 0.3, Z: -0.2})
	for i := range 128 {
		pos := ms3.Add(viewer, ms3.Scale(float32(i)*0.5, dir))
		dist, ok := p.Sample(pos)
		d.Probes = append(d.Probes, probe{
			Position: [3]float32{pos.X, pos.Y, pos.Z},
			Distance: dist,
			Found:    ok,
		})
	}
	for stage, st := range p.Stats().All() {
		d.Stages = append(d.Stages, stageDump{
			Stage:      stage,
			AvgSeconds: st.Avg.Seconds(),
			MaxSeconds: st.Max.Seconds(),
			Samples:    st.Samples,
		})
	}

	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.New("encoding dump failed").Wrap(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.New("writing dump failed").
			WithTag("path", path).
			Wrap(err)
	}
	logs.WithTag("path", path).
		WithTag("probes", len(d.Probes)).
		Info("wrote dump")
	return nil
}
