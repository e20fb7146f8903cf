// models holds the data shared by the simulation, sampling, and dataset packages.
// States and actions are plain float vectors of length NumDims; the types here
// give them bounds and pair them up into transition samples.
package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Regime is the noise classification of a location in the gating field.
type Regime int

const (
	Low Regime = iota
	High
)

func (r Regime) String() string {
	switch r {
	case Low:
		return "low"
	case High:
		return "high"
	}
	return fmt.Sprintf("Regime(%d)", int(r))
}

// BoundedSpec describes a bounded vector: its shape and per-dimension minimum and maximum.
// Shape is (1, n), matching a single batched observation or action.
type BoundedSpec struct {
	Name    string
	Shape   [2]int
	Minimum []float64
	Maximum []float64
}

// NewBoundedSpec copies the bounds so the spec cannot be mutated through the caller's slices.
func NewBoundedSpec(name string, minimum, maximum []float64) BoundedSpec {
	return BoundedSpec{
		Name:    name,
		Shape:   [2]int{1, len(minimum)},
		Minimum: append([]float64(nil), minimum...),
		Maximum: append([]float64(nil), maximum...),
	}
}

// NumDims returns the number of dimensions of the spec.
func (spec BoundedSpec) NumDims() int {
	return spec.Shape[1]
}

// Contains reports whether every component of v lies within the bounds.
func (spec BoundedSpec) Contains(v []float64) bool {
	if len(v) != spec.NumDims() {
		return false
	}
	for i, x := range v {
		if x < spec.Minimum[i] || x > spec.Maximum[i] {
			return false
		}
	}
	return true
}

// Center returns the midpoint of the bounds.
func (spec BoundedSpec) Center() []float64 {
	center := make([]float64, spec.NumDims())
	for i := range center {
		center[i] = spec.Minimum[i] + 0.5*(spec.Maximum[i]-spec.Minimum[i])
	}
	return center
}

// TransitionSample is the atomic dataset record: Input is state‖action, Output is the state delta.
type TransitionSample struct {
	Input  []float64
	Output []float64
}

// Concat returns state‖action as a new slice.
func Concat(state, action []float64) []float64 {
	row := make([]float64, 0, len(state)+len(action))
	row = append(row, state...)
	return append(row, action...)
}

// Split returns the state and action halves of a state‖action row.
// The halves alias @row.
func Split(row []float64, numDims int) (state, action []float64) {
	return row[:numDims], row[numDims:]
}

// ErrShapeMismatch is returned when dataset matrices disagree on row count or width.
var ErrShapeMismatch = errors.New("dataset shape mismatch")

// Dataset is an ordered sequence of transition samples, stored row-major so that
// row i of the inputs is always aligned with row i of the outputs.
type Dataset struct {
	NumDims int
	x       []float64
	y       []float64
}

// NewDataset returns a dataset with @rows preallocated zero rows.
func NewDataset(numDims, rows int) *Dataset {
	return &Dataset{
		NumDims: numDims,
		x:       make([]float64, rows*2*numDims),
		y:       make([]float64, rows*numDims),
	}
}

// FromMatrices builds a dataset from an inputs matrix [N, 2*d] and an outputs matrix [N, d].
func FromMatrices(inputs, outputs mat.Matrix) (*Dataset, error) {
	xr, xc := inputs.Dims()
	yr, yc := outputs.Dims()
	if xr != yr || xc != 2*yc {
		return nil, fmt.Errorf("%w: x is %dx%d, y is %dx%d", ErrShapeMismatch, xr, xc, yr, yc)
	}

	ds := NewDataset(yc, xr)
	for i := 0; i < xr; i++ {
		for j := 0; j < xc; j++ {
			ds.x[i*xc+j] = inputs.At(i, j)
		}
		for j := 0; j < yc; j++ {
			ds.y[i*yc+j] = outputs.At(i, j)
		}
	}
	return ds, nil
}

// Len returns the number of rows.
func (ds *Dataset) Len() int {
	if ds.NumDims == 0 {
		return 0
	}
	return len(ds.y) / ds.NumDims
}

// Set overwrites row i.
func (ds *Dataset) Set(i int, sample TransitionSample) {
	d := ds.NumDims
	copy(ds.x[i*2*d:(i+1)*2*d], sample.Input)
	copy(ds.y[i*d:(i+1)*d], sample.Output)
}

// Append adds a row to the end of the dataset.
func (ds *Dataset) Append(sample TransitionSample) {
	ds.x = append(ds.x, sample.Input[:2*ds.NumDims]...)
	ds.y = append(ds.y, sample.Output[:ds.NumDims]...)
}

// Sample returns a copy of row i.
func (ds *Dataset) Sample(i int) TransitionSample {
	d := ds.NumDims
	return TransitionSample{
		Input:  append([]float64(nil), ds.x[i*2*d:(i+1)*2*d]...),
		Output: append([]float64(nil), ds.y[i*d:(i+1)*d]...),
	}
}

// Visit calls fn for every row, in order.
func (ds *Dataset) Visit(fn func(i int, sample TransitionSample)) {
	for i := 0; i < ds.Len(); i++ {
		fn(i, ds.Sample(i))
	}
}

// Head returns a copy of the first n rows.
func (ds *Dataset) Head(n int) *Dataset {
	if n > ds.Len() {
		n = ds.Len()
	}
	d := ds.NumDims
	return &Dataset{
		NumDims: d,
		x:       append([]float64(nil), ds.x[:n*2*d]...),
		y:       append([]float64(nil), ds.y[:n*d]...),
	}
}

// Inputs returns the [N, 2*NumDims] input matrix, or nil for an empty dataset since
// gonum does not allow zero-sized matrices.
func (ds *Dataset) Inputs() *mat.Dense {
	if ds.Len() == 0 {
		return nil
	}
	return mat.NewDense(ds.Len(), 2*ds.NumDims, append([]float64(nil), ds.x...))
}

// Outputs returns the [N, NumDims] output matrix, or nil for an empty dataset.
func (ds *Dataset) Outputs() *mat.Dense {
	if ds.Len() == 0 {
		return nil
	}
	return mat.NewDense(ds.Len(), ds.NumDims, append([]float64(nil), ds.y...))
}
