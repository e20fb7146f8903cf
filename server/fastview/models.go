// fastview builds simple server-side views: a data model is converted to a view-model,
// the view-model is broadcast to one or more views, and each view emits element updates
// that a websocket client applies to the page.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attribute names or 'textContent'. ('x','123') sets attribute x to 123;
	// ('textContent','abc') sets ele.textContent to abc.
	Ops []Op
}

// Op is a key and value, for example an svg attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// ViewComponent is a server-side view: Parse writes its initial form into a parent template,
// and Updates yields the element updates that keep the rendered page current.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	// Parse adds the component's template definition to @parent, inheriting its func-map,
	// and returns the definition's name.
	Parse(parent *template.Template) (string, error)
}
