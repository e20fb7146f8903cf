package field_views

import (
	"fmt"
	"html/template"

	"quadsim/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// binDim is the bin height/width in pixels.
const binDim = 60

// Quiver draws one arrow per bin, pointing along the bin's mean delta and scaled by its
// relative magnitude, over a background filled by the bin's gating regime.
type Quiver struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewQuiver(
	done <-chan struct{},
	bins <-chan [][]Bin,
) *Quiver {
	qv := &Quiver{id: "quiver"}
	qv.updates = channerics.Convert(done, bins, qv.onUpdate)
	return qv
}

func (qv *Quiver) Updates() <-chan []fastview.EleUpdate {
	return qv.updates
}

func arrowTransform(bin Bin) string {
	return fmt.Sprintf("rotate(%d) scale(%.3f)", bin.ArrowRotation, 0.25+bin.ArrowScale)
}

// Returns the set of view updates needed for the view to reflect the current means.
func (qv *Quiver) onUpdate(bins [][]Bin) (ops []fastview.EleUpdate) {
	for _, col := range bins {
		for _, bin := range col {
			ops = append(ops, fastview.EleUpdate{
				EleId: fmt.Sprintf("%d-%d-bin-arrow", bin.X, bin.Y),
				Ops: []fastview.Op{
					{Key: "transform", Value: arrowTransform(bin)},
					{Key: "visibility", Value: visibility(bin)},
				},
			})
			ops = append(ops, fastview.EleUpdate{
				EleId: fmt.Sprintf("%d-%d-bin-count", bin.X, bin.Y),
				Ops: []fastview.Op{
					{Key: "textContent", Value: fmt.Sprintf("%d", bin.Count)},
				},
			})
		}
	}
	return
}

func visibility(bin Bin) string {
	if bin.Count == 0 {
		return "hidden"
	}
	return "visible"
}

// Parse defines the quiver svg, one group per bin.
func (qv *Quiver) Parse(
	t *template.Template,
) (name string, err error) {
	name = qv.id
	addedMap := template.FuncMap{
		"arrowTransform": arrowTransform,
		"visibility":     visibility,
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div id="quiver_plot">
			{{ $x_bins := len . }}
			{{ $y_bins := len (index . 0) }}
			{{ $bin_width := ` + fmt.Sprintf("%d", binDim) + ` }}
			{{ $bin_height := $bin_width }}
			{{ $width := mult $bin_width $x_bins }}
			{{ $height := mult $bin_height $y_bins }}
			{{ $half_height := div $bin_height 2 }}
			{{ $half_width := div $bin_width 2 }}
			<svg id="` + qv.id + `"
				width="{{ add $width 1 }}px"
				height="{{ add $height 1 }}px"
				style="shape-rendering: crispEdges;">
				{{ range $col := . }}
					{{ range $bin := $col }}
					<g>
						<rect
							x="{{ mult $bin.X $bin_width }}"
							y="{{ mult $bin.Y $bin_height }}"
							width="{{ $bin_width }}"
							height="{{ $bin_height }}"
							fill="{{ $bin.Fill }}"
							stroke="white"
							stroke-width="1"/>
						<text id="{{$bin.X}}-{{$bin.Y}}-bin-count"
							x="{{ add (mult $bin.X $bin_width) 4 }}"
							y="{{ add (mult $bin.Y $bin_height) 12 }}"
							font-size="10" fill="dimgray"
							>{{ $bin.Count }}</text>
						<g transform="translate({{ add (mult $bin.X $bin_width) $half_width }}, {{ add (mult $bin.Y $bin_height) $half_height }})">
							<text id="{{$bin.X}}-{{$bin.Y}}-bin-arrow"
							font-size="28" fill="navy"
							dominant-baseline="central" text-anchor="middle"
							visibility="{{ visibility $bin }}"
							transform="{{ arrowTransform $bin }}"
							>&uarr;</text>
						</g>
					</g>
					{{ end }}
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
