// dataset drives the transition model over sampled state-action pairs and collects
// the resulting deltas into a dataset.
//
// Every row reseeds its model's noise source with Seed+1+row before the draw, so a
// row's delta depends only on its index. Output is therefore identical across runs
// and across worker counts.
package dataset

import (
	"context"
	"fmt"
	"time"

	"quadsim/atomic_float"
	"quadsim/config"
	"quadsim/gating"
	"quadsim/models"
	"quadsim/quadcopter"
	"quadsim/sampling"

	channerics "github.com/niceyeti/channerics/channels"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Builder generates datasets from one simulation configuration and gating field.
type Builder struct {
	sim     config.SimulationConfig
	field   *gating.Field
	workers int
	logger  *zap.Logger

	// updates optionally receives snapshots of the rows completed so far.
	updates        chan<- *models.Dataset
	reportInterval time.Duration
	progress       *atomic_float.AtomicFloat64
}

// NewBuilder validates the configuration by building a model, and returns a builder.
// A nil field selects the uniform field; fewer than one worker means one.
func NewBuilder(
	sim config.SimulationConfig,
	field *gating.Field,
	workers int,
	logger *zap.Logger,
) (*Builder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	probe, err := quadcopter.New(sim, field, logger)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	return &Builder{
		sim:            sim,
		field:          probe.Field(),
		workers:        workers,
		logger:         logger,
		reportInterval: time.Second,
		progress:       atomic_float.NewAtomicFloat64(0),
	}, nil
}

// WithUpdates publishes dataset snapshots to @updates while generating.
// Intermediate snapshots are dropped when the receiver is not ready; the final one is not.
func (b *Builder) WithUpdates(updates chan<- *models.Dataset, interval time.Duration) *Builder {
	b.updates = updates
	if interval > 0 {
		b.reportInterval = interval
	}
	return b
}

// Progress returns the completed fraction of the current or last run, in [0,1].
func (b *Builder) Progress() float64 {
	return b.progress.AtomicRead()
}

func (b *Builder) observationSpec() models.BoundedSpec {
	return models.NewBoundedSpec("observation", b.sim.MinObservation, b.sim.MaxObservation)
}

func (b *Builder) actionSpec() models.BoundedSpec {
	return models.NewBoundedSpec("action", b.sim.MinAction, b.sim.MaxAction)
}

// Generate samples @numStatesPerDim random states and a grid of @numActionsPerDim actions per
// dimension, pairs every state with every action combination, and simulates each pair.
func (b *Builder) Generate(
	ctx context.Context,
	numStatesPerDim, numActionsPerDim int,
) (*models.Dataset, error) {
	numDims := b.sim.NumDims
	states, err := sampling.NewSampler(b.sim.Seed, b.logger).
		SampleStates(numDims, numStatesPerDim, b.observationSpec())
	if err != nil {
		return nil, err
	}

	grid, err := sampling.SampleActions(numDims, numActionsPerDim, b.actionSpec())
	if err != nil {
		return nil, err
	}

	rows := sampling.CrossProduct(states, grid)
	b.logger.Info("generating transitions",
		zap.Int("states", len(states)),
		zap.Int("actionCombinations", grid.Size()),
		zap.Int("rows", len(rows)))
	return b.Run(ctx, rows)
}

// GenerateConstantAction samples @numStates states, drops those excluded by the optional mask,
// and simulates @action from each remaining state. Mask filtering happens before pairing.
func (b *Builder) GenerateConstantAction(
	ctx context.Context,
	action []float64,
	mask *gating.Field,
	numStates int,
) (*models.Dataset, error) {
	numDims := b.sim.NumDims
	if len(action) != numDims {
		return nil, fmt.Errorf("%w: action has %d components, want %d",
			quadcopter.ErrDimensionMismatch, len(action), numDims)
	}

	obs := b.observationSpec()
	states, err := sampling.NewSampler(b.sim.Seed, b.logger).SampleStates(numDims, numStates, obs)
	if err != nil {
		return nil, err
	}
	sampled := len(states)
	if states, err = sampling.FilterByMask(states, mask, obs); err != nil {
		return nil, fmt.Errorf("mask filter: %w", err)
	}

	rows := sampling.CrossProduct(states, sampling.ConstantAction(action))
	b.logger.Info("generating constant-action transitions",
		zap.Float64s("action", action),
		zap.Int("sampled", sampled),
		zap.Int("unmasked", len(states)),
		zap.Int("rows", len(rows)))
	return b.Run(ctx, rows)
}

type result struct {
	row    int
	sample models.TransitionSample
}

// Run simulates every state‖action row and returns the dataset, row-aligned with @rows.
func (b *Builder) Run(ctx context.Context, rows [][]float64) (*models.Dataset, error) {
	numDims := b.sim.NumDims
	ds := models.NewDataset(numDims, len(rows))
	b.progress.AtomicSet(0)
	if len(rows) == 0 {
		b.progress.AtomicSet(1)
		return ds, b.publish(ctx, ds)
	}

	// Each worker owns a model; only the immutable field is shared.
	quads := make([]*quadcopter.Quadcopter, b.workers)
	for w := range quads {
		q, err := quadcopter.New(b.sim, b.field, b.logger)
		if err != nil {
			return nil, err
		}
		quads[w] = q
	}

	group, groupCtx := errgroup.WithContext(ctx)

	indices := make(chan int)
	group.Go(func() error {
		defer close(indices)
		for i := range rows {
			select {
			case indices <- i:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	results := make([]<-chan result, 0, b.workers)
	for _, q := range quads {
		q := q
		out := make(chan result)
		results = append(results, out)
		group.Go(func() error {
			defer close(out)
			return b.simulate(groupCtx, q, rows, indices, out)
		})
	}

	// Collect on this routine: it alone writes @ds, so snapshots never race the workers.
	partial := models.NewDataset(numDims, 0)
	ticker := channerics.NewTicker(groupCtx.Done(), b.reportInterval)
	merged := channerics.Merge(groupCtx.Done(), results...)
	for collecting := true; collecting; {
		select {
		case res, ok := <-merged:
			if !ok {
				collecting = false
				break
			}
			ds.Set(res.row, res.sample)
			partial.Append(res.sample)
		case <-ticker:
			b.logger.Info("generation progress",
				zap.Float64("fraction", b.Progress()),
				zap.Int("rows", partial.Len()),
				zap.Int("total", len(rows)))
			b.offer(partial.Head(partial.Len()))
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if partial.Len() != len(rows) {
		return nil, fmt.Errorf("collected %d of %d rows", partial.Len(), len(rows))
	}

	b.progress.AtomicSet(1)
	b.logger.Info("generation complete", zap.Int("rows", ds.Len()))
	return ds, b.publish(ctx, ds)
}

// simulate pulls row indices until they run out, resetting the model to each row's state
// before computing its delta.
func (b *Builder) simulate(
	ctx context.Context,
	q *quadcopter.Quadcopter,
	rows [][]float64,
	indices <-chan int,
	out chan<- result,
) error {
	share := 1.0 / float64(len(rows))
	for i := range channerics.OrDone(ctx.Done(), indices) {
		state, action := models.Split(rows[i], b.sim.NumDims)
		q.Reset(state)
		q.Seed(b.sim.Seed + 1 + uint64(i))
		delta, err := q.TransitionDynamics(state, action)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}

		select {
		case out <- result{
			row: i,
			sample: models.TransitionSample{
				Input:  append([]float64(nil), rows[i]...),
				Output: delta,
			},
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.progress.Add(share)
	}
	return ctx.Err()
}

// offer sends a snapshot if the receiver is ready, and otherwise drops it.
func (b *Builder) offer(snapshot *models.Dataset) {
	if b.updates == nil {
		return
	}
	select {
	case b.updates <- snapshot:
	default:
	}
}

// publish sends the finished dataset, waiting for the receiver.
func (b *Builder) publish(ctx context.Context, ds *models.Dataset) error {
	if b.updates == nil {
		return nil
	}
	select {
	case b.updates <- ds.Head(ds.Len()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
