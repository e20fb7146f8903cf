package field_views

import (
	"fmt"
	"html/template"

	"quadsim/models"
	"quadsim/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// Summary counts dataset rows per gating regime.
type Summary struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

// Counts is the Summary's view of a bin grid.
type Counts struct {
	Rows, Low, High int
}

func summarize(bins [][]Bin) (c Counts) {
	for _, col := range bins {
		for _, bin := range col {
			c.Rows += bin.Count
			if bin.Regime == models.High {
				c.High += bin.Count
			} else {
				c.Low += bin.Count
			}
		}
	}
	return
}

func NewSummary(
	done <-chan struct{},
	bins <-chan [][]Bin,
) *Summary {
	sv := &Summary{id: "summary"}
	sv.updates = channerics.Convert(done, bins, sv.onUpdate)
	return sv
}

func (sv *Summary) Updates() <-chan []fastview.EleUpdate {
	return sv.updates
}

func (sv *Summary) onUpdate(bins [][]Bin) []fastview.EleUpdate {
	c := summarize(bins)
	text := func(suffix string, n int) fastview.EleUpdate {
		return fastview.EleUpdate{
			EleId: sv.id + "-" + suffix,
			Ops:   []fastview.Op{{Key: "textContent", Value: fmt.Sprintf("%d", n)}},
		}
	}
	return []fastview.EleUpdate{
		text("rows", c.Rows),
		text("low", c.Low),
		text("high", c.High),
	}
}

func (sv *Summary) Parse(
	t *template.Template,
) (name string, err error) {
	name = sv.id
	_, err = t.Funcs(template.FuncMap{"summarize": summarize}).Parse(
		`{{ define "` + name + `" }}
		{{ $c := summarize . }}
		<div style="font-family: monospace; padding: 8px;">
			rows: <span id="` + sv.id + `-rows">{{ $c.Rows }}</span>
			low-noise: <span id="` + sv.id + `-low">{{ $c.Low }}</span>
			high-noise: <span id="` + sv.id + `-high">{{ $c.High }}</span>
		</div>
		{{ end }}`)
	return
}
