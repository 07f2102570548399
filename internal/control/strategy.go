package control

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
)

// Fields are the command-specific fields merged into a reply.
type Fields = map[string]any

// OptionSetter applies a new option value to the device.
//
// It is called before the cached value changes, with the option's update
// lock held. Returning an error (or panicking) rejects the mutation and
// leaves the cached value untouched.
type OptionSetter interface {
	SetOption(o *option.Option, value float64) error
}

// OptionSetterFunc adapts a function to OptionSetter.
type OptionSetterFunc func(o *option.Option, value float64) error

// SetOption calls f(o, value).
func (f OptionSetterFunc) SetOption(o *option.Option, value float64) error {
	return f(o, value)
}

// OptionQuerier reads the authoritative value of an option from the
// device. The returned value replaces the cached one.
type OptionQuerier interface {
	QueryOption(o *option.Option) (float64, error)
}

// OptionQuerierFunc adapts a function to OptionQuerier.
type OptionQuerierFunc func(o *option.Option) (float64, error)

// QueryOption calls f(o).
func (f OptionQuerierFunc) QueryOption(o *option.Option) (float64, error) {
	return f(o)
}

// CommandHandler handles device-specific control ids.
//
// handled=false means the id is not recognised. A non-nil error is
// reported to the client as a callback failure.
type CommandHandler interface {
	HandleControl(id string, body flexible.Document) (fields Fields, handled bool, err error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(id string, body flexible.Document) (Fields, bool, error)

// HandleControl calls f(id, body).
func (f CommandHandlerFunc) HandleControl(id string, body flexible.Document) (Fields, bool, error) {
	return f(id, body)
}

// OptionChange describes an applied option mutation.
type OptionChange struct {
	Stream string // empty for device scope
	Option string
	Value  float64
	At     time.Time
}

// OptionObserver is notified after a set-option succeeds and its reply has
// been sent. Errors are logged and never change the reply.
type OptionObserver interface {
	OptionChanged(ctx context.Context, change OptionChange) error
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
