// Package registry resolves option names against the device scope and the
// per-stream scopes of a device.
//
// Resolution never falls back between scopes: an empty stream name searches
// the device options only, any other name searches that stream's options
// only.
package registry

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-devserver/internal/option"
)

// Registry holds the device-scope options and, per stream name, that
// stream's options.
//
// The registry is written from the server's lifecycle path (register,
// clear) and read from control workers (find, options). All methods are
// thread-safe. Option values are guarded by the options themselves.
type Registry struct {
	mu      sync.RWMutex
	device  option.List
	streams map[string]option.List
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{streams: make(map[string]option.List)}
}

// RegisterDeviceOptions sets the device-scope options, replacing any
// previously registered.
func (r *Registry) RegisterDeviceOptions(opts option.List) {
	r.mu.Lock()
	r.device = append(option.List(nil), opts...)
	r.mu.Unlock()
}

// RegisterStream adds a stream scope.
// Returns ErrStreamExists if a stream with the same name is registered.
func (r *Registry) RegisterStream(name string, opts option.List) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[name]; exists {
		return fmt.Errorf("%w: '%s'", ErrStreamExists, name)
	}
	r.streams[name] = append(option.List(nil), opts...)
	r.order = append(r.order, name)
	return nil
}

// Find resolves optionName in the scope selected by streamName.
//
// Returns a *NotFoundError (matching ErrOptionNotFound) when the stream is
// unknown or the option does not exist in the scope.
func (r *Registry) Find(optionName, streamName string) (*option.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scope := r.device
	if streamName != "" {
		opts, ok := r.streams[streamName]
		if !ok {
			return nil, &NotFoundError{Stream: streamName, Option: optionName}
		}
		scope = opts
	}

	if o, ok := scope.Find(optionName); ok {
		return o, nil
	}
	return nil, &NotFoundError{Stream: streamName, Option: optionName}
}

// Options returns the options of a scope. ok is false for an unknown stream.
func (r *Registry) Options(streamName string) (opts option.List, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if streamName == "" {
		return append(option.List(nil), r.device...), true
	}
	list, ok := r.streams[streamName]
	if !ok {
		return nil, false
	}
	return append(option.List(nil), list...), true
}

// StreamNames returns the registered stream names in registration order.
func (r *Registry) StreamNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Clear removes every scope.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.device = nil
	r.streams = make(map[string]option.List)
	r.order = nil
	r.mu.Unlock()
}
