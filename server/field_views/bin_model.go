// field_views contains views derived from the Bin view-model: a coarse grid over the
// observation bounds holding the mean transition delta of the dataset rows whose state
// falls in each bin.
package field_views

import (
	"fmt"
	"math"

	"quadsim/gating"
	"quadsim/models"

	"gonum.org/v1/gonum/floats"
)

// Bin is one grid cell, oriented in the svg coordinate system such that [0][0] is the
// top-left bin. Fields are immediately usable as view parameters.
type Bin struct {
	X, Y          int
	Count         int
	DX, DY        float64 // mean delta of the rows in this bin
	ArrowRotation int     // degrees clockwise from vertical
	ArrowScale    float64 // mean delta magnitude relative to the largest bin, in [0,1]
	Regime        models.Regime
	Fill          string
}

// Converter bins datasets over fixed observation bounds.
type Converter struct {
	obs     models.BoundedSpec
	bins    int
	regimes [][]models.Regime
}

// NewConverter returns a converter with @bins bins per axis. Each bin's regime is the
// gating regime at its center.
func NewConverter(obs models.BoundedSpec, field *gating.Field, bins int) (*Converter, error) {
	if obs.NumDims() < 2 {
		return nil, fmt.Errorf("quiver views need two observation dimensions, got %d", obs.NumDims())
	}
	if bins < 1 {
		return nil, fmt.Errorf("need at least one bin per axis, got %d", bins)
	}

	conv := &Converter{
		obs:     obs,
		bins:    bins,
		regimes: make([][]models.Regime, bins),
	}
	for x := range conv.regimes {
		conv.regimes[x] = make([]models.Regime, bins)
		for y := range conv.regimes[x] {
			center := conv.obs.Center()
			center[0] = conv.binCenter(0, x)
			center[1] = conv.binCenter(1, y)
			regime, err := field.RegimeAt(center, obs)
			if err != nil {
				return nil, err
			}
			conv.regimes[x][y] = regime
		}
	}
	return conv, nil
}

func (conv *Converter) binCenter(dim, i int) float64 {
	lo, hi := conv.obs.Minimum[dim], conv.obs.Maximum[dim]
	return lo + (float64(i)+0.5)*(hi-lo)/float64(conv.bins)
}

// binOf returns the bin index of @v along @dim; values outside the bounds land in the edge bins.
func (conv *Converter) binOf(dim int, v float64) int {
	lo, hi := conv.obs.Minimum[dim], conv.obs.Maximum[dim]
	if hi <= lo {
		return 0
	}
	i := int(math.Floor((v - lo) / (hi - lo) * float64(conv.bins)))
	return min(max(i, 0), conv.bins-1)
}

// Convert bins the dataset's rows by state and returns the bins as [x][y], with y flipped
// for the svg coordinate system where 0 is the top.
func (conv *Converter) Convert(ds *models.Dataset) [][]Bin {
	sums := make([][][]float64, conv.bins)
	counts := make([][]int, conv.bins)
	for x := range sums {
		sums[x] = make([][]float64, conv.bins)
		counts[x] = make([]int, conv.bins)
		for y := range sums[x] {
			sums[x][y] = make([]float64, 2)
		}
	}

	if ds != nil {
		ds.Visit(func(_ int, s models.TransitionSample) {
			x, y := conv.binOf(0, s.Input[0]), conv.binOf(1, s.Input[1])
			floats.Add(sums[x][y], s.Output[:2])
			counts[x][y]++
		})
	}

	maxNorm := 0.0
	for x := range sums {
		for y := range sums[x] {
			if counts[x][y] > 0 {
				floats.Scale(1/float64(counts[x][y]), sums[x][y])
				maxNorm = math.Max(maxNorm, floats.Norm(sums[x][y], 2))
			}
		}
	}

	bins := make([][]Bin, conv.bins)
	for x := range bins {
		bins[x] = make([]Bin, conv.bins)
		for y := range bins[x] {
			mean := sums[x][y]
			bin := Bin{
				X:             x,
				Y:             conv.bins - y - 1,
				Count:         counts[x][y],
				DX:            mean[0],
				DY:            mean[1],
				ArrowRotation: getDegrees(mean[0], mean[1]),
				Regime:        conv.regimes[x][y],
				Fill:          getFill(conv.regimes[x][y]),
			}
			if maxNorm > 0 {
				bin.ArrowScale = floats.Norm(mean, 2) / maxNorm
			}
			bins[x][y] = bin
		}
	}
	return bins
}

// getDegrees converts a cartesian vector into the degrees passed to svg's rotate() for an
// upward arrow rune. Degrees are wrt vertical.
func getDegrees(dx, dy float64) int {
	if dx == 0 && dy == 0 {
		return 0
	}
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	// correct in cartesian space, but svg rotates clockwise from vertical
	return int(math.Round(90 - deg))
}

func getFill(regime models.Regime) string {
	if regime == models.High {
		return "lightsalmon"
	}
	return "lightgray"
}
