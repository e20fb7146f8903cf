package models

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

func TestBoundedSpec(t *testing.T) {
	Convey("Given an observation spec over [-3,3]^2", t, func() {
		spec := NewBoundedSpec("observation", []float64{-3, -3}, []float64{3, 3})

		Convey("Its shape is a single batched row", func() {
			So(spec.Shape, ShouldResemble, [2]int{1, 2})
			So(spec.NumDims(), ShouldEqual, 2)
		})

		Convey("Contains accepts the boundary and rejects outside points", func() {
			So(spec.Contains([]float64{3, -3}), ShouldBeTrue)
			So(spec.Contains([]float64{0, 3.01}), ShouldBeFalse)
			So(spec.Contains([]float64{0}), ShouldBeFalse)
		})

		Convey("The center is the origin", func() {
			So(spec.Center(), ShouldResemble, []float64{0, 0})
		})
	})
}

func TestDataset(t *testing.T) {
	Convey("Given a preallocated dataset", t, func() {
		ds := NewDataset(2, 3)
		for i := 0; i < 3; i++ {
			f := float64(i)
			ds.Set(i, TransitionSample{
				Input:  Concat([]float64{f, f}, []float64{-f, -f}),
				Output: []float64{f / 10, -f / 10},
			})
		}

		Convey("Rows stay aligned", func() {
			So(ds.Len(), ShouldEqual, 3)
			s := ds.Sample(2)
			state, action := Split(s.Input, 2)
			So(state, ShouldResemble, []float64{2, 2})
			So(action, ShouldResemble, []float64{-2, -2})
			So(s.Output, ShouldResemble, []float64{0.2, -0.2})
		})

		Convey("The matrices have the persisted shapes", func() {
			r, c := ds.Inputs().Dims()
			So(r, ShouldEqual, 3)
			So(c, ShouldEqual, 4)
			r, c = ds.Outputs().Dims()
			So(r, ShouldEqual, 3)
			So(c, ShouldEqual, 2)
		})

		Convey("FromMatrices reproduces the dataset", func() {
			other, err := FromMatrices(ds.Inputs(), ds.Outputs())
			So(err, ShouldBeNil)
			So(other.Len(), ShouldEqual, 3)
			So(other.Sample(1), ShouldResemble, ds.Sample(1))
		})

		Convey("Head copies a prefix", func() {
			head := ds.Head(2)
			So(head.Len(), ShouldEqual, 2)
			head.Set(0, TransitionSample{Input: []float64{9, 9, 9, 9}, Output: []float64{9, 9}})
			So(ds.Sample(0).Output, ShouldResemble, []float64{0, 0})
		})

		Convey("Append grows the dataset", func() {
			ds.Append(TransitionSample{Input: []float64{1, 2, 3, 4}, Output: []float64{5, 6}})
			So(ds.Len(), ShouldEqual, 4)
			So(ds.Sample(3).Output, ShouldResemble, []float64{5, 6})
		})
	})

	Convey("An empty dataset has no matrices", t, func() {
		ds := NewDataset(2, 0)
		So(ds.Len(), ShouldEqual, 0)
		So(ds.Inputs(), ShouldBeNil)
		So(ds.Outputs(), ShouldBeNil)
	})

	Convey("FromMatrices rejects misaligned matrices", t, func() {
		x := mat.NewDense(2, 4, nil)
		y := mat.NewDense(3, 2, nil)
		_, err := FromMatrices(x, y)
		So(errors.Is(err, ErrShapeMismatch), ShouldBeTrue)
	})

	Convey("Regimes print their names", t, func() {
		So(Low.String(), ShouldEqual, "low")
		So(High.String(), ShouldEqual, "high")
	})
}
