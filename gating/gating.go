// gating holds the 2D scalar field that decides the local process-noise regime,
// and doubles as the occlusion mask used to drop sampled states.
//
// Pixel convention, used by every lookup: the column comes from the first state
// coordinate and the row from the second, flipped so that increasing the second
// coordinate moves up the image (toward row 0).
package gating

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"math"
	"os"

	"quadsim/models"

	_ "golang.org/x/image/bmp"
)

// MaxChannelValue is the 8-bit intensity that maps to 1.0.
const MaxChannelValue = 255.0

// MaskThreshold is the mask value below which a state is dropped.
const MaskThreshold = 0.5

var (
	// ErrInvalidSource is returned when a source is neither a usable grid nor a readable grayscale image.
	ErrInvalidSource = errors.New("gating source must be a numeric grid or a grayscale image path")
	// ErrOutOfBounds is returned under the Reject policy for states outside the observation bounds.
	ErrOutOfBounds = errors.New("state maps outside the gating field")
)

// BoundsPolicy decides what happens to pixel indices that fall outside the field.
type BoundsPolicy int

const (
	// Clamp pulls each axis back into [0, dim-1].
	Clamp BoundsPolicy = iota
	// Reject fails the lookup with ErrOutOfBounds.
	Reject
)

// ParseBoundsPolicy maps "clamp" or "reject" to a policy.
func ParseBoundsPolicy(s string) (BoundsPolicy, error) {
	switch s {
	case "clamp", "":
		return Clamp, nil
	case "reject":
		return Reject, nil
	}
	return Clamp, fmt.Errorf("unknown bounds policy %q", s)
}

// Source is where a field is loaded from: a GridSource or an ImageSource.
type Source interface {
	grid() ([][]float64, error)
}

// GridSource is an explicit grid of values in [0,1], indexed [row][col].
type GridSource [][]float64

func (gs GridSource) grid() ([][]float64, error) {
	if len(gs) == 0 || len(gs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrInvalidSource)
	}
	cols := len(gs[0])
	for r, row := range gs {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidSource, r, len(row), cols)
		}
	}
	return gs, nil
}

// ImageSource is a path to a grayscale PNG or BMP image.
type ImageSource string

func (is ImageSource) grid() ([][]float64, error) {
	if is == "" {
		return nil, fmt.Errorf("%w: empty image path", ErrInvalidSource)
	}
	f, err := os.Open(string(is))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidSource, is, err)
	}
	return grayGrid(img), nil
}

// grayGrid reads an image as 8-bit grayscale, rescaled to [0,1].
func grayGrid(img image.Image) [][]float64 {
	b := img.Bounds()
	grid := make([][]float64, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := make([]float64, b.Dx())
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			row[x-b.Min.X] = float64(g.Y) / MaxChannelValue
		}
		grid[y-b.Min.Y] = row
	}
	return grid
}

// Pixel is a row/column index into the field.
type Pixel struct {
	Row, Col int
}

// Field is an immutable 2D grid of scalars in [0,1].
type Field struct {
	rows, cols int
	values     []float64
	policy     BoundsPolicy
}

// Load builds a field from a grid or an image path.
func Load(source Source, policy BoundsPolicy) (*Field, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidSource)
	}
	grid, err := source.grid()
	if err != nil {
		return nil, err
	}

	field := &Field{
		rows:   len(grid),
		cols:   len(grid[0]),
		values: make([]float64, 0, len(grid)*len(grid[0])),
		policy: policy,
	}
	for _, row := range grid {
		field.values = append(field.values, row...)
	}
	return field, nil
}

// Uniform returns the all-ones resolution x resolution field, which selects the low regime everywhere.
func Uniform(resolution int, policy BoundsPolicy) *Field {
	field := &Field{
		rows:   resolution,
		cols:   resolution,
		values: make([]float64, resolution*resolution),
		policy: policy,
	}
	for i := range field.values {
		field.values[i] = 1.0
	}
	return field
}

// FromPath loads an image field, or the uniform field when the path is empty.
func FromPath(path string, resolution int, policy BoundsPolicy) (*Field, error) {
	if path == "" {
		return Uniform(resolution, policy), nil
	}
	return Load(ImageSource(path), policy)
}

// Dims returns the number of rows and columns.
func (f *Field) Dims() (rows, cols int) {
	return f.rows, f.cols
}

// ToPixel maps a continuous 2D state inside the observation bounds to a pixel.
// Indices are rounded half-to-even and then clamped or rejected per the field's policy.
func (f *Field) ToPixel(state []float64, obs models.BoundedSpec) (Pixel, error) {
	if len(state) < 2 || obs.NumDims() < 2 {
		return Pixel{}, fmt.Errorf("%w: need a 2D state, got %d components", ErrOutOfBounds, len(state))
	}

	nx := (state[0] - obs.Minimum[0]) / (obs.Maximum[0] - obs.Minimum[0])
	ny := (state[1] - obs.Minimum[1]) / (obs.Maximum[1] - obs.Minimum[1])
	col := int(math.RoundToEven(nx * float64(f.cols-1)))
	row := (f.rows - 1) - int(math.RoundToEven(ny*float64(f.rows-1)))

	inside := nx >= 0 && nx <= 1 && ny >= 0 && ny <= 1 &&
		row >= 0 && row < f.rows && col >= 0 && col < f.cols
	if !inside {
		if f.policy == Reject {
			return Pixel{}, fmt.Errorf("%w: state %v -> pixel (%d,%d) in %dx%d field",
				ErrOutOfBounds, state, row, col, f.rows, f.cols)
		}
		row = clamp(row, f.rows-1)
		col = clamp(col, f.cols-1)
	}
	return Pixel{Row: row, Col: col}, nil
}

func clamp(i, hi int) int {
	if i < 0 {
		return 0
	}
	if i > hi {
		return hi
	}
	return i
}

// GateValue returns the scalar at a pixel, which must lie inside the field.
func (f *Field) GateValue(p Pixel) float64 {
	return f.values[p.Row*f.cols+p.Col]
}

// Regime classifies a gate value. Only exactly 1.0 is low noise; every other value is high.
func Regime(value float64) models.Regime {
	if value == 1.0 {
		return models.Low
	}
	return models.High
}

// RegimeAt looks up the noise regime for a state.
func (f *Field) RegimeAt(state []float64, obs models.BoundedSpec) (models.Regime, error) {
	pixel, err := f.ToPixel(state, obs)
	if err != nil {
		return models.High, err
	}
	return Regime(f.GateValue(pixel)), nil
}

// Masked reports whether the field, used as an occlusion mask, excludes the state.
func (f *Field) Masked(state []float64, obs models.BoundedSpec) (bool, error) {
	pixel, err := f.ToPixel(state, obs)
	if err != nil {
		return false, err
	}
	return f.GateValue(pixel) < MaskThreshold, nil
}
