// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command sdfbench drives a distance field pipeline through a procedural
// scene with a moving viewer and reports per-stage timings.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"honnef.co/go/scenesdf"
	"honnef.co/go/scenesdf/engine/cpu_engine"
	"honnef.co/go/scenesdf/renderer"
)

var (
	// Set at build.
	version = "v0.1.0"

	stageAvg = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scenesdf_stage_avg_seconds",
		Help: "Running average of the time spent in a stage.",
	}, []string{"stage"})
	stageMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scenesdf_stage_max_seconds",
		Help: "Longest time spent in a stage.",
	}, []string{"stage"})
	cascadeUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenesdf_cascade_updates_total",
		Help: "The number of cascade updates.",
	}, []string{"cascade"})
	skippedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenesdf_skipped_frames_total",
		Help: "The number of frames without a cascade update.",
	}, []string{"reason"})
	exhaustedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenesdf_exhausted_updates_total",
		Help: "The number of cascade updates that ran out of capacity.",
	})
)

type config struct {
	Frames               int     `cli:"" env:"SCENESDF_FRAMES"                  help:"Number of frames to run."`
	Speed                float64 `cli:"" env:"SCENESDF_SPEED"                   help:"Viewer speed in units per frame."`
	Objects              int     `cli:"" env:"SCENESDF_OBJECTS"                 help:"Number of procedural objects."`
	Seed                 int     `cli:"" env:"SCENESDF_SEED"                    help:"Seed of the procedural scene."`
	Workers              int     `cli:"" env:"SCENESDF_WORKERS"                 help:"Number of kernel workers, 0 for one per CPU."`
	TileDimCount         int     `cli:"" env:"SCENESDF_TILE_DIM_COUNT"          help:"Number of tiles along each axis of a cascade."`
	VoxelsPerTileDim     int     `cli:"" env:"SCENESDF_VOXELS_PER_TILE_DIM"     help:"Number of voxels along each axis of a tile."`
	SubvoxelsPerVoxelDim int     `cli:"" env:"SCENESDF_SUBVOXELS_PER_VOXEL_DIM" help:"Number of subvoxels along each axis of a voxel."`
	Settings             string  `cli:"" env:"SCENESDF_SETTINGS"                help:"JSON file with cascade settings."`
	Output               string  `cli:"" env:"SCENESDF_OUTPUT"                  help:"File to write cascade headers and probe samples to."`
	AdminAddr            string  `cli:"" env:"SCENESDF_ADMIN_ADDR"              help:"Admin listening address for metrics. Keeps serving after the run until interrupted."`
	LogLevel             string  `cli:"" env:"SCENESDF_LOG_LEVEL"               help:"Log level (debug|info|warning|error)."`
	LogIndent            bool    `cli:"" env:"SCENESDF_LOG_INDENT"              help:"Indent logs."`
	Version              bool    `cli:"" env:"-"                                help:"Show version."`
	Help                 bool    `cli:"" env:"-"                                help:"Show help."`
}

func main() {
	limits := renderer.DefaultLimits()
	conf := config{
		Frames:               600,
		Speed:                0.05,
		Objects:              64,
		Seed:                 1,
		TileDimCount:         8,
		VoxelsPerTileDim:     int(limits.VoxelsPerTileDim),
		SubvoxelsPerVoxelDim: int(limits.SubvoxelsPerVoxelDim),
		LogLevel:             logs.InfoLevel.String(),
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Runs a distance field pipeline through a procedural scene.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	limits.TileDimCount = uint32(conf.TileDimCount)
	limits.VoxelsPerTileDim = uint32(conf.VoxelsPerTileDim)
	limits.SubvoxelsPerVoxelDim = uint32(conf.SubvoxelsPerVoxelDim)
	limits.MaxTiles = limits.TileCount() * 16

	settings, err := loadSettings(conf.Settings)
	if err != nil {
		logs.Fatal(err)
	}

	scene := scenesdf.NewScene(limits.MaxTriCount)
	if err := populate(scene, conf.Objects, conf.Seed); err != nil {
		logs.Fatal(errors.New("building scene failed").Wrap(err))
	}

	eng := cpu_engine.New(&cpu_engine.Options{
		Workers:                conf.Workers,
		ParallelInitialization: true,
	})
	defer eng.Close()
	go eng.BuildShaders(2)

	pipeline, err := scenesdf.New(eng, limits, settings, scene)
	if err != nil {
		logs.Fatal(errors.New("creating pipeline failed").Wrap(err))
	}

	if conf.AdminAddr != "" {
		var admin http.ServeMux
		admin.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: conf.AdminAddr, Handler: &admin}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Warn(errors.New("admin server failed").Wrap(err))
			}
		}()
		defer server.Close()
	}

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("frames", conf.Frames).
		WithTag("objects", scene.NumObjects()).
		WithTag("cascades", len(settings.Cascades)).
		WithTag("voxels_per_axis", limits.VoxelsPerAxis()).
		Info("starting sdfbench")

	start := time.Now()
	b := bench{
		conf:     conf,
		pipeline: pipeline,
	}
	b.run(ctx)
	pipeline.Wait()
	b.collect()

	logs.WithTag("frames", b.frames).
		WithTag("updates", b.updates).
		WithTag("duration", time.Since(start).String()).
		Info("run finished")
	for stage, st := range pipeline.Stats().All() {
		logs.WithTag("stage", stage).
			WithTag("avg", st.Avg.String()).
			WithTag("max", st.Max.String()).
			WithTag("samples", st.Samples).
			Info("stage timing")
	}

	if conf.Output != "" {
		if err := writeDump(conf.Output, pipeline, b.viewer); err != nil {
			logs.Warn(errors.New("writing output failed").Wrap(err))
		}
	}

	if conf.AdminAddr != "" {
		logs.WithTag("admin_addr", conf.AdminAddr).Info("serving metrics until interrupted")
		<-ctx.Done()
	}
}

func validateConfig(conf config) error {
	invalid := func(field string, v any) error {
		return errors.New("invalid configuration").
			WithType(scenesdf.ErrInvalidSettings).
			WithTag("field", field).
			WithTag("value", v)
	}
	switch {
	case conf.Frames < 0:
		return invalid("frames", conf.Frames)
	case conf.Objects < 0:
		return invalid("objects", conf.Objects)
	case conf.TileDimCount <= 0:
		return invalid("tile_dim_count", conf.TileDimCount)
	case conf.VoxelsPerTileDim <= 0:
		return invalid("voxels_per_tile_dim", conf.VoxelsPerTileDim)
	case conf.SubvoxelsPerVoxelDim <= 0:
		return invalid("subvoxels_per_voxel_dim", conf.SubvoxelsPerVoxelDim)
	}
	return nil
}

// loadSettings returns the default settings, overridden by the contents of
// the JSON file at path, if any.
func loadSettings(path string) (scenesdf.Settings, error) {
	settings := scenesdf.DefaultSettings()
	if path == "" {
		return settings, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return settings, errors.New("reading settings failed").
			WithTag("path", path).
			Wrap(err)
	}
	if err := json.Unmarshal(b, &settings); err != nil {
		return settings, errors.New("decoding settings failed").
			WithType(scenesdf.ErrInvalidSettings).
			WithTag("path", path).
			Wrap(err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}
