// sampling builds the candidate states and actions a dataset is generated from.
// States are drawn uniformly at random; actions form an evenly spaced grid whose
// per-dimension axes are only combined when paired with states.
package sampling

import (
	"fmt"

	"quadsim/gating"
	"quadsim/models"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws states from a seeded source.
type Sampler struct {
	src    rand.Source
	logger *zap.Logger
}

// NewSampler returns a sampler whose draws are fixed by @seed.
func NewSampler(seed uint64, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		src:    rand.NewSource(seed),
		logger: logger,
	}
}

func checkDims(numDims int, bounds models.BoundedSpec) error {
	if numDims < 1 || bounds.NumDims() != numDims {
		return fmt.Errorf("%s bounds have %d dimensions, want %d", bounds.Name, bounds.NumDims(), numDims)
	}
	return nil
}

// SampleStates draws @numPerDim states, each component uniform within its bounds.
// This is a joint random draw, not a grid: the result has numPerDim rows.
func (s *Sampler) SampleStates(
	numDims, numPerDim int,
	bounds models.BoundedSpec,
) ([][]float64, error) {
	if err := checkDims(numDims, bounds); err != nil {
		return nil, err
	}

	dists := make([]distuv.Uniform, numDims)
	for d := range dists {
		dists[d] = distuv.Uniform{Min: bounds.Minimum[d], Max: bounds.Maximum[d], Src: s.src}
	}

	states := make([][]float64, numPerDim)
	for i := range states {
		states[i] = make([]float64, numDims)
		for d := range dists {
			states[i][d] = dists[d].Rand()
		}
	}

	s.logger.Debug("sampled states", zap.Int("rows", numPerDim), zap.Int("dims", numDims))
	return states, nil
}

// ActionGrid holds evenly spaced values per action dimension; Axes[d] is dimension d.
type ActionGrid struct {
	Axes [][]float64
}

// SampleActions returns @numPerDim evenly spaced values per dimension, endpoints included.
// A single value per dimension is the lower bound.
func SampleActions(
	numDims, numPerDim int,
	bounds models.BoundedSpec,
) (ActionGrid, error) {
	if err := checkDims(numDims, bounds); err != nil {
		return ActionGrid{}, err
	}
	if numPerDim < 1 {
		return ActionGrid{}, fmt.Errorf("need at least one action per dimension, got %d", numPerDim)
	}

	grid := ActionGrid{Axes: make([][]float64, numDims)}
	for d := range grid.Axes {
		if numPerDim == 1 {
			grid.Axes[d] = []float64{bounds.Minimum[d]}
			continue
		}
		grid.Axes[d] = floats.Span(make([]float64, numPerDim), bounds.Minimum[d], bounds.Maximum[d])
	}
	return grid, nil
}

// ConstantAction returns the grid holding only @action.
func ConstantAction(action []float64) ActionGrid {
	grid := ActionGrid{Axes: make([][]float64, len(action))}
	for d, a := range action {
		grid.Axes[d] = []float64{a}
	}
	return grid
}

// Size returns the number of combinations.
func (grid ActionGrid) Size() int {
	if len(grid.Axes) == 0 {
		return 0
	}
	n := 1
	for _, axis := range grid.Axes {
		n *= len(axis)
	}
	return n
}

// Combinations returns the Cartesian product of the axes with dimension 0 varying fastest,
// which for two dimensions is the row-major flattening of meshgrid(axis0, axis1).
func (grid ActionGrid) Combinations() [][]float64 {
	size := grid.Size()
	combos := make([][]float64, 0, size)
	index := make([]int, len(grid.Axes))
	for k := 0; k < size; k++ {
		combo := make([]float64, len(grid.Axes))
		for d, i := range index {
			combo[d] = grid.Axes[d][i]
		}
		combos = append(combos, combo)

		// odometer increment, dimension 0 first
		for d := range index {
			index[d]++
			if index[d] < len(grid.Axes[d]) {
				break
			}
			index[d] = 0
		}
	}
	return combos
}

// CrossProduct pairs every action combination with every state. Actions are the outer
// loop, so the rows for one action are contiguous. Each row is state‖action.
func CrossProduct(states [][]float64, grid ActionGrid) [][]float64 {
	combos := grid.Combinations()
	rows := make([][]float64, 0, len(combos)*len(states))
	for _, action := range combos {
		for _, state := range states {
			rows = append(rows, models.Concat(state, action))
		}
	}
	return rows
}

// FilterByMask drops every state the mask excludes (mask value below 0.5). A nil mask keeps all states.
func FilterByMask(
	states [][]float64,
	mask *gating.Field,
	obs models.BoundedSpec,
) ([][]float64, error) {
	if mask == nil {
		return states, nil
	}

	kept := make([][]float64, 0, len(states))
	for _, state := range states {
		masked, err := mask.Masked(state, obs)
		if err != nil {
			return nil, err
		}
		if !masked {
			kept = append(kept, state)
		}
	}
	return kept, nil
}
