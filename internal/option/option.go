// Package option defines the runtime-configurable scalar settings a device
// exposes, either device-wide or per stream.
package option

import (
	"sync"
)

// Range describes the allowed values of an option.
// It is informational: clients use it to build controls, the server does not
// clamp values against it.
type Range struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step" yaml:"step"`
	Default float64 `json:"default" yaml:"default"`
}

// Option is a named scalar setting.
//
// The name is immutable after construction. The value is guarded by a mutex
// so readers observe either the old or the new value, never a torn one.
//
// Thread Safety: All methods are safe for concurrent use.
type Option struct {
	name        string
	description string
	rng         *Range

	// update serialises read-modify-write sequences (see Update).
	update sync.Mutex

	mu    sync.RWMutex
	value float64
}

// New creates an option with an initial value.
func New(name string, value float64) *Option {
	return &Option{name: name, value: value}
}

// WithDescription sets the human-readable description and returns the option.
func (o *Option) WithDescription(description string) *Option {
	o.description = description
	return o
}

// WithRange attaches a value range and returns the option.
func (o *Option) WithRange(r Range) *Option {
	o.rng = &r
	return o
}

// Name returns the option name.
func (o *Option) Name() string {
	return o.name
}

// Description returns the option description (may be empty).
func (o *Option) Description() string {
	return o.description
}

// Range returns the option range, if any.
func (o *Option) Range() (Range, bool) {
	if o.rng == nil {
		return Range{}, false
	}
	return *o.rng, true
}

// Value returns the current cached value.
func (o *Option) Value() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// SetValue replaces the cached value.
func (o *Option) SetValue(v float64) {
	o.mu.Lock()
	o.value = v
	o.mu.Unlock()
}

// Update runs fn while holding the option's update lock.
//
// Concurrent Update calls on the same option run one at a time, so a caller
// can invoke an external hook and then store the value without another
// writer slipping in between. Plain Value/SetValue calls are not blocked by
// the update lock.
func (o *Option) Update(fn func(o *Option) error) error {
	o.update.Lock()
	defer o.update.Unlock()
	return fn(o)
}

// ToJSON returns the discovery representation of the option:
//
//	{"name": "Exposure", "value": 33000, "description": "...", "range": [min, max, step, default]}
func (o *Option) ToJSON() map[string]any {
	j := map[string]any{
		"name":  o.name,
		"value": o.Value(),
	}
	if o.description != "" {
		j["description"] = o.description
	}
	if o.rng != nil {
		j["range"] = []any{o.rng.Min, o.rng.Max, o.rng.Step, o.rng.Default}
	}
	return j
}

// List is an ordered set of options.
type List []*Option

// Find returns the first option with the given name.
func (l List) Find(name string) (*Option, bool) {
	for _, o := range l {
		if o.name == name {
			return o, true
		}
	}
	return nil, false
}

// Names returns the option names in order.
func (l List) Names() []string {
	names := make([]string, 0, len(l))
	for _, o := range l {
		names = append(names, o.name)
	}
	return names
}

// ToJSON returns the discovery representation of every option, in order.
func (l List) ToJSON() []any {
	out := make([]any, 0, len(l))
	for _, o := range l {
		out = append(out, o.ToJSON())
	}
	return out
}
