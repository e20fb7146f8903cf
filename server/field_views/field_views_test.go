package field_views

import (
	"bytes"
	"fmt"
	"html/template"
	"testing"

	"quadsim/gating"
	"quadsim/models"
	"quadsim/server/fastview"

	. "github.com/smartystreets/goconvey/convey"
)

var obs = models.NewBoundedSpec("observation", []float64{-3, -3}, []float64{3, 3})

// leftGated has low noise on the left half of the bounds and high noise on the right.
func leftGated() *gating.Field {
	grid := make(gating.GridSource, 9)
	for r := range grid {
		grid[r] = make([]float64, 9)
		for c := range grid[r] {
			if c < 4 {
				grid[r][c] = 1
			}
		}
	}
	field, err := gating.Load(grid, gating.Clamp)
	So(err, ShouldBeNil)
	return field
}

func sample(x, y, dx, dy float64) models.TransitionSample {
	return models.TransitionSample{
		Input:  []float64{x, y, 0, 0},
		Output: []float64{dx, dy},
	}
}

func quiverUpdate(bin Bin) fastview.EleUpdate {
	return fastview.EleUpdate{
		EleId: fmt.Sprintf("%d-%d-bin-arrow", bin.X, bin.Y),
		Ops: []fastview.Op{
			{Key: "transform", Value: arrowTransform(bin)},
			{Key: "visibility", Value: "visible"},
		},
	}
}

func textUpdate(id, value string) fastview.EleUpdate {
	return fastview.EleUpdate{
		EleId: id,
		Ops:   []fastview.Op{{Key: "textContent", Value: value}},
	}
}

func TestConvert(t *testing.T) {
	Convey("Given a 2x2 bin converter over a half-gated field", t, func() {
		conv, err := NewConverter(obs, leftGated(), 2)
		So(err, ShouldBeNil)

		ds := models.NewDataset(2, 0)
		// bottom-left bin
		ds.Append(sample(-2, -2, 1, 0))
		ds.Append(sample(-1, -1, 0, 1))
		// top-right bin
		ds.Append(sample(2, 2, 0, 2))
		// outside the bounds, clamped into the top-right bin
		ds.Append(sample(9, 9, 0, 2))

		bins := conv.Convert(ds)

		Convey("Rows are averaged per bin", func() {
			So(len(bins), ShouldEqual, 2)
			bottomLeft := bins[0][0]
			So(bottomLeft.Count, ShouldEqual, 2)
			So(bottomLeft.DX, ShouldAlmostEqual, 0.5)
			So(bottomLeft.DY, ShouldAlmostEqual, 0.5)

			topRight := bins[1][1]
			So(topRight.Count, ShouldEqual, 2)
			So(topRight.DY, ShouldAlmostEqual, 2.0)
			So(bins[0][1].Count, ShouldEqual, 0)
		})

		Convey("The y axis is flipped for svg", func() {
			So(bins[0][0].Y, ShouldEqual, 1)
			So(bins[1][1].Y, ShouldEqual, 0)
		})

		Convey("Arrows point along the mean and scale to the largest mean", func() {
			So(bins[1][1].ArrowRotation, ShouldEqual, 0)
			So(bins[0][0].ArrowRotation, ShouldEqual, 45)
			So(bins[1][1].ArrowScale, ShouldAlmostEqual, 1.0)
			So(bins[0][0].ArrowScale, ShouldAlmostEqual, 0.3536, 0.001)
			So(bins[0][1].ArrowScale, ShouldEqual, 0.0)
		})

		Convey("Fills follow the gating regime at each bin center", func() {
			So(bins[0][0].Regime, ShouldEqual, models.Low)
			So(bins[1][0].Regime, ShouldEqual, models.High)
			So(bins[0][0].Fill, ShouldNotEqual, bins[1][0].Fill)
		})

		Convey("The summary counts rows per regime", func() {
			So(summarize(bins), ShouldResemble, Counts{Rows: 4, Low: 2, High: 2})
		})

		Convey("An empty dataset gives empty bins", func() {
			for _, col := range conv.Convert(nil) {
				for _, bin := range col {
					So(bin.Count, ShouldEqual, 0)
				}
			}
		})
	})

	Convey("Converters need two dimensions and at least one bin", t, func() {
		field := gating.Uniform(5, gating.Clamp)
		_, err := NewConverter(obs, field, 0)
		So(err, ShouldNotBeNil)
		_, err = NewConverter(models.NewBoundedSpec("o", []float64{0}, []float64{1}), field, 3)
		So(err, ShouldNotBeNil)
	})
}

func TestViews(t *testing.T) {
	Convey("Given quiver and summary views over one bin grid", t, func() {
		conv, err := NewConverter(obs, leftGated(), 3)
		So(err, ShouldBeNil)
		ds := models.NewDataset(2, 0)
		ds.Append(sample(0, 0, 1, 0))
		bins := conv.Convert(ds)

		done := make(chan struct{})
		defer close(done)
		quiverIn := make(chan [][]Bin, 1)
		summaryIn := make(chan [][]Bin, 1)
		quiver := NewQuiver(done, quiverIn)
		summary := NewSummary(done, summaryIn)

		Convey("Updates address the rendered elements", func() {
			quiverIn <- bins
			updates := <-quiver.Updates()
			So(len(updates), ShouldEqual, 2*3*3)
			So(updates, ShouldContain, quiverUpdate(bins[1][1]))

			summaryIn <- bins
			So(<-summary.Updates(), ShouldContain, textUpdate("summary-rows", "1"))
		})

		Convey("Both templates render the initial bins", func() {
			funcs := template.FuncMap{
				"add":  func(i, j int) int { return i + j },
				"sub":  func(i, j int) int { return i - j },
				"mult": func(i, j int) int { return i * j },
				"div":  func(i, j int) int { return i / j },
			}
			for _, vc := range []interface {
				Parse(*template.Template) (string, error)
			}{quiver, summary} {
				tmpl := template.New("page").Funcs(funcs)
				name, err := vc.Parse(tmpl)
				So(err, ShouldBeNil)

				var buf bytes.Buffer
				So(tmpl.ExecuteTemplate(&buf, name, bins), ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, `id="`+name)
			}
		})
	})
}
