package dataset

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quadsim/config"
	"quadsim/gating"
	"quadsim/models"
	"quadsim/quadcopter"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBuilder(sim config.SimulationConfig, field *gating.Field, workers int) *Builder {
	b, err := NewBuilder(sim, field, workers, nil)
	So(err, ShouldBeNil)
	return b
}

// topHalfMask is zero wherever the second coordinate is above the middle of the bounds.
func topHalfMask() *gating.Field {
	grid := make(gating.GridSource, 21)
	for r := range grid {
		grid[r] = make([]float64, 21)
		for c := range grid[r] {
			if r < 10 {
				grid[r][c] = 0
			} else {
				grid[r][c] = 1
			}
		}
	}
	mask, err := gating.Load(grid, gating.Clamp)
	So(err, ShouldBeNil)
	return mask
}

func TestGenerate(t *testing.T) {
	sim := config.Default().Simulation
	sim.Seed = 2024
	ctx := context.Background()

	Convey("Given a builder over the uniform field", t, func() {
		b := newBuilder(sim, nil, 1)
		ds, err := b.Generate(ctx, 6, 3)
		So(err, ShouldBeNil)

		Convey("It produces |states| x |actions|^2 aligned rows", func() {
			So(ds.Len(), ShouldEqual, 6*3*3)
			So(ds.Inputs().RawMatrix().Cols, ShouldEqual, 4)
			So(ds.Outputs().RawMatrix().Cols, ShouldEqual, 2)
			So(b.Progress(), ShouldEqual, 1.0)
		})

		Convey("Every output is the delta simulated from its own input row", func() {
			q, err := quadcopter.New(sim, nil, nil)
			So(err, ShouldBeNil)
			ds.Visit(func(i int, s models.TransitionSample) {
				state, action := models.Split(s.Input, 2)
				q.Reset(state)
				q.Seed(sim.Seed + 1 + uint64(i))
				delta, err := q.TransitionDynamics(state, action)
				So(err, ShouldBeNil)
				So(s.Output, ShouldResemble, delta)
			})
		})

		Convey("Every delta is the trapezoid term plus low-variance noise", func() {
			ds.Visit(func(i int, s models.TransitionSample) {
				_, action := models.Split(s.Input, 2)
				for d := 0; d < 2; d++ {
					So(s.Output[d], ShouldAlmostEqual, 0.5*action[d]*sim.DeltaTime, 0.01)
				}
			})
		})

		Convey("Repeated runs are bit-identical", func() {
			again, err := newBuilder(sim, nil, 1).Generate(ctx, 6, 3)
			So(err, ShouldBeNil)
			So(mat.Equal(again.Inputs(), ds.Inputs()), ShouldBeTrue)
			So(mat.Equal(again.Outputs(), ds.Outputs()), ShouldBeTrue)
		})

		Convey("The worker count does not change the output", func() {
			parallel, err := newBuilder(sim, nil, 4).Generate(ctx, 6, 3)
			So(err, ShouldBeNil)
			So(mat.Equal(parallel.Inputs(), ds.Inputs()), ShouldBeTrue)
			So(mat.Equal(parallel.Outputs(), ds.Outputs()), ShouldBeTrue)
		})
	})

	Convey("A cancelled context stops generation", t, func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newBuilder(sim, nil, 3).Generate(cancelled, 50, 10)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})

	Convey("A reject-policy field fails on rows outside the bounds", t, func() {
		strict := sim
		strict.BoundsPolicy = config.Reject
		b := newBuilder(strict, nil, 2)
		_, err := b.Run(ctx, [][]float64{{0, 0, 1, 1}, {9, 0, 1, 1}})
		So(errors.Is(err, gating.ErrOutOfBounds), ShouldBeTrue)
	})

	Convey("Snapshots are published to an updates channel", t, func() {
		updates := make(chan *models.Dataset, 16)
		b := newBuilder(sim, nil, 2).WithUpdates(updates, time.Millisecond)
		ds, err := b.Generate(ctx, 20, 2)
		So(err, ShouldBeNil)

		var last *models.Dataset
		for len(updates) > 0 {
			last = <-updates
		}
		So(last, ShouldNotBeNil)
		So(last.Len(), ShouldEqual, ds.Len())
	})
}

func TestGenerateConstantAction(t *testing.T) {
	sim := config.Default().Simulation
	ctx := context.Background()

	Convey("Given a constant action and a mask over the top half", t, func() {
		b := newBuilder(sim, nil, 2)
		action := []float64{2, -4}
		mask := topHalfMask()

		ds, err := b.GenerateConstantAction(ctx, action, mask, 200)
		So(err, ShouldBeNil)

		Convey("Masked states are dropped before pairing", func() {
			So(ds.Len(), ShouldBeGreaterThan, 0)
			So(ds.Len(), ShouldBeLessThan, 200)
			obs := models.NewBoundedSpec("observation", sim.MinObservation, sim.MaxObservation)
			ds.Visit(func(i int, s models.TransitionSample) {
				state, a := models.Split(s.Input, 2)
				So(a, ShouldResemble, action)
				masked, err := mask.Masked(state, obs)
				So(err, ShouldBeNil)
				So(masked, ShouldBeFalse)
				So(state[1], ShouldBeLessThan, 0.3)
			})
		})

		Convey("Without a mask every sampled state is kept", func() {
			all, err := b.GenerateConstantAction(ctx, action, nil, 200)
			So(err, ShouldBeNil)
			So(all.Len(), ShouldEqual, 200)
		})

		Convey("An action of the wrong dimension is rejected", func() {
			_, err := b.GenerateConstantAction(ctx, []float64{1}, nil, 10)
			So(errors.Is(err, quadcopter.ErrDimensionMismatch), ShouldBeTrue)
		})

		Convey("A mask that excludes everything yields an empty dataset", func() {
			empty, err := gating.Load(gating.GridSource{{0, 0}, {0, 0}}, gating.Clamp)
			So(err, ShouldBeNil)
			none, err := b.GenerateConstantAction(ctx, action, empty, 50)
			So(err, ShouldBeNil)
			So(none.Len(), ShouldEqual, 0)
		})
	})
}

func TestPersistence(t *testing.T) {
	Convey("Given a generated dataset", t, func() {
		sim := config.Default().Simulation
		ds, err := newBuilder(sim, nil, 1).Generate(context.Background(), 5, 2)
		So(err, ShouldBeNil)
		path := filepath.Join(t.TempDir(), "data", "quad_sim_data.npz")

		Convey("It round-trips through an npz file", func() {
			So(Save(path, ds), ShouldBeNil)
			loaded, err := Load(path)
			So(err, ShouldBeNil)
			So(loaded.Len(), ShouldEqual, ds.Len())
			So(mat.Equal(loaded.Inputs(), ds.Inputs()), ShouldBeTrue)
			So(mat.Equal(loaded.Outputs(), ds.Outputs()), ShouldBeTrue)
		})

		Convey("Empty datasets are not written", func() {
			So(errors.Is(Save(path, models.NewDataset(2, 0)), ErrEmptyDataset), ShouldBeTrue)
		})

		Convey("Loading a missing file fails", func() {
			_, err := Load(filepath.Join(t.TempDir(), "missing.npz"))
			So(err, ShouldNotBeNil)
		})
	})
}
