package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testYaml = `
kind: QuadcopterSimulation
def:
  deadline: 90s
  simulation:
    num_dims: 2
    min_observation: [-1.0, -2.0]
    max_observation: [1.0, 2.0]
    delta_time: 0.1
    gating_bitmap: ./field.png
    bounds_policy: reject
    seed: 7
  dataset:
    num_states_per_dim: 5
    constant_action: [1.5, -0.5]
    workers: 3
  server:
    port: "9090"
`

func writeConfig(dir, contents string) string {
	path := filepath.Join(dir, "config.yaml")
	So(os.WriteFile(path, []byte(contents), 0o644), ShouldBeNil)
	return path
}

func TestFromYaml(t *testing.T) {
	Convey("When reading a config document", t, func() {
		dir := t.TempDir()

		Convey("Defined keys override the defaults and the rest are kept", func() {
			cfg, err := FromYaml(writeConfig(dir, testYaml))
			So(err, ShouldBeNil)
			So(cfg.Simulation.MinObservation, ShouldResemble, []float64{-1, -2})
			So(cfg.Simulation.MaxObservation, ShouldResemble, []float64{1, 2})
			So(cfg.Simulation.DeltaTime, ShouldEqual, 0.1)
			So(cfg.Simulation.GatingBitmap, ShouldEqual, "./field.png")
			So(cfg.Simulation.BoundsPolicy, ShouldEqual, Reject)
			So(cfg.Simulation.Seed, ShouldEqual, uint64(7))
			So(cfg.Simulation.LowProcessNoiseVar, ShouldResemble, Default().Simulation.LowProcessNoiseVar)
			So(cfg.Dataset.NumStatesPerDim, ShouldEqual, 5)
			So(cfg.Dataset.ConstantAction, ShouldResemble, []float64{1.5, -0.5})
			So(cfg.Dataset.Workers, ShouldEqual, 3)
			So(cfg.Server.Addr(), ShouldEqual, ":9090")
			So(cfg.Deadline, ShouldEqual, "90s")
		})

		Convey("An unknown kind is rejected", func() {
			_, err := FromYaml(writeConfig(dir, "kind: Other\ndef: {}\n"))
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("A partially specified vector is rejected rather than broadcast", func() {
			doc := "kind: QuadcopterSimulation\ndef:\n  simulation:\n    max_action: [10.0]\n"
			_, err := FromYaml(writeConfig(dir, doc))
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("A missing file fails", func() {
			_, err := FromYaml(filepath.Join(dir, "nope.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("The defaults are valid", t, func() {
		So(Default().Validate(), ShouldBeNil)
	})

	Convey("Given invalid simulation parameters", t, func() {
		cases := map[string]func(*Config){
			"zero variance":      func(c *Config) { c.Simulation.HighProcessNoiseVar = []float64{0, 1} },
			"empty bounds":       func(c *Config) { c.Simulation.MinObservation = []float64{3, -3} },
			"negative step":      func(c *Config) { c.Simulation.DeltaTime = -0.1 },
			"unknown policy":     func(c *Config) { c.Simulation.BoundsPolicy = "wrap" },
			"no states":          func(c *Config) { c.Dataset.NumStatesPerDim = 0 },
			"short action":       func(c *Config) { c.Dataset.ConstantAction = []float64{1} },
			"bad deadline":       func(c *Config) { c.Deadline = "soon" },
			"no field dimension": func(c *Config) { c.Simulation.BitmapResolution = 0 },
		}
		for name, mutate := range cases {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			So(name, ShouldNotBeEmpty)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		}
	})
}

func TestWithDeadline(t *testing.T) {
	Convey("A configured deadline bounds the context", t, func() {
		cfg := Default()
		cfg.Deadline = "1h"
		ctx, cancel, err := cfg.WithDeadline(context.Background())
		So(err, ShouldBeNil)
		defer cancel()
		deadline, ok := ctx.Deadline()
		So(ok, ShouldBeTrue)
		So(time.Until(deadline), ShouldBeGreaterThan, 59*time.Minute)
	})

	Convey("Without a deadline the context is only cancellable", t, func() {
		ctx, cancel, err := Default().WithDeadline(context.Background())
		So(err, ShouldBeNil)
		_, ok := ctx.Deadline()
		So(ok, ShouldBeFalse)
		cancel()
		So(ctx.Err(), ShouldNotBeNil)
	})
}
