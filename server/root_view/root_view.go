package root_view

import (
	"context"
	"html/template"
	"time"

	"quadsim/models"
	"quadsim/server/fastview"
	"quadsim/server/field_views"

	channerics "github.com/niceyeti/channerics/channels"
)

// batchRate is how long element updates are coalesced before being sent.
const batchRate = time.Millisecond * 20

// RootView is the main page's index.html: the container for all view components
// and the wiring for their channels.
type RootView struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate
}

// NewRootView builds the page's views over dataset snapshots binned by @convert.
func NewRootView(
	ctx context.Context,
	convert func(*models.Dataset) [][]field_views.Bin,
	datasets <-chan *models.Dataset,
) (*RootView, error) {
	views, err := fastview.NewViewBuilder[*models.Dataset, [][]field_views.Bin]().
		WithContext(ctx).
		WithModel(datasets, convert).
		WithView(func(
			done <-chan struct{},
			bins <-chan [][]field_views.Bin) fastview.ViewComponent {
			return field_views.NewSummary(done, bins)
		}).
		WithView(func(
			done <-chan struct{},
			bins <-chan [][]field_views.Bin) fastview.ViewComponent {
			return field_views.NewQuiver(done, bins)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &RootView{
		views:   views,
		updates: fanIn(ctx.Done(), views),
	}, nil
}

// Updates returns the aggregated ele-update channel for all the views.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map the child components depend on.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	var bodySpec string
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" . }}`
	}

	// The main template bootstraps the rest: sets up the client websocket and aggregates views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<title>quadsim transitions</title>
			<script>
				const ws = new WebSocket("ws://" + window.location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// Apply each pushed element update by id.
				ws.onmessage = function (event) {
					items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// fanIn merges the views' ele-update channels into a single batched channel.
func fanIn(
	done <-chan struct{},
	views []fastview.ViewComponent,
) <-chan []fastview.EleUpdate {
	inputs := make([]<-chan []fastview.EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		batchRate)
}

// batchify coalesces updates received within @rate, keeping only the latest update per
// ele-id, so redundant updates for the same element are not sent.
func batchify(
	done <-chan struct{},
	source <-chan []fastview.EleUpdate,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	output := make(chan []fastview.EleUpdate)

	go func() {
		defer close(output)

		data := map[string]fastview.EleUpdate{}
		var last time.Time
		for updates := range channerics.OrDone(done, source) {
			for _, update := range updates {
				data[update.EleId] = update
			}

			if time.Since(last) > rate && len(data) > 0 {
				select {
				case output <- slicedVals(data):
					data = map[string]fastview.EleUpdate{}
					last = time.Now()
				case <-done:
					return
				}
			}
		}
	}()

	return output
}

// slicedVals returns the values of a map as a slice.
func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
