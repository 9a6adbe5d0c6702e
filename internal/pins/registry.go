// Package pins tracks the map pins shown for drops inside a session's
// visible region.
package pins

import (
	"sort"

	"github.com/sells-group/photo-drop/internal/model"
)

// Display shows and hides pins on the client map.
type Display interface {
	AddPin(pin model.Pin)
	RemovePin(pin model.Pin)
}

// Registry maps drop keys to pins. It is not safe for concurrent use; it
// lives on a session's dispatch loop.
type Registry struct {
	display Display
	pins    map[string]model.Pin
}

// NewRegistry creates an empty registry. A nil display is allowed.
func NewRegistry(display Display) *Registry {
	return &Registry{display: display, pins: make(map[string]model.Pin)}
}

// OnKeyEntered adds a pin for key. An existing pin for the key is replaced.
func (r *Registry) OnKeyEntered(key string, loc model.Location) {
	if old, ok := r.pins[key]; ok && r.display != nil {
		r.display.RemovePin(old)
	}
	pin := model.Pin{Key: key, Location: loc}
	r.pins[key] = pin
	if r.display != nil {
		r.display.AddPin(pin)
	}
}

// OnKeyExited removes the pin for key. Unknown keys are ignored.
func (r *Registry) OnKeyExited(key string) {
	pin, ok := r.pins[key]
	if !ok {
		return
	}
	delete(r.pins, key)
	if r.display != nil {
		r.display.RemovePin(pin)
	}
}

func (r *Registry) Get(key string) (model.Pin, bool) {
	p, ok := r.pins[key]
	return p, ok
}

func (r *Registry) Len() int { return len(r.pins) }

// Keys returns the pinned keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.pins))
	for k := range r.pins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every pin, telling the display about each one.
func (r *Registry) Clear() {
	for _, key := range r.Keys() {
		r.OnKeyExited(key)
	}
}
