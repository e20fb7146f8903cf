package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"quadsim/models"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// Array names inside the .npz container, readable from NumPy as data["x"] and data["y"].
const (
	InputsName  = "x.npy"
	OutputsName = "y.npy"
)

// ErrEmptyDataset is returned when saving a dataset with no rows.
var ErrEmptyDataset = errors.New("dataset has no rows")

// Save writes the dataset's inputs [N, 2*d] as x and outputs [N, d] as y into an .npz file,
// creating the parent directory if needed.
func Save(path string, ds *models.Dataset) (err error) {
	if ds.Len() == 0 {
		return ErrEmptyDataset
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var f *os.File
	if f, err = os.Create(path); err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	wz := npz.NewWriter(f)
	if err = wz.Write(InputsName, ds.Inputs()); err != nil {
		return fmt.Errorf("write %s: %w", InputsName, err)
	}
	if err = wz.Write(OutputsName, ds.Outputs()); err != nil {
		return fmt.Errorf("write %s: %w", OutputsName, err)
	}
	return wz.Close()
}

// Load reads a dataset written by Save (or by numpy.savez with x and y arrays).
func Load(path string) (*models.Dataset, error) {
	rz, err := npz.Open(path)
	if err != nil {
		return nil, err
	}
	defer rz.Close()

	var x, y mat.Dense
	if err = rz.Read(InputsName, &x); err != nil {
		return nil, fmt.Errorf("read %s: %w", InputsName, err)
	}
	if err = rz.Read(OutputsName, &y); err != nil {
		return nil, fmt.Errorf("read %s: %w", OutputsName, err)
	}
	return models.FromMatrices(&x, &y)
}
