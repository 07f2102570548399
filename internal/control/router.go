// Package control turns inbound control requests into option mutations and
// queries and builds the correlated reply for each one.
//
// Requests are executed off the transport's delivery goroutine by a
// Dispatcher. Each request is routed by its "id":
//
//	set-option    option-name, [stream-name], value
//	query-option  option-name (string | list), [stream-name]
//	<other>       offered to the injected CommandHandler
//
// Every handler returns either success Fields or an *Error; Process folds
// both into the reply envelope.
package control

import (
	"errors"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/registry"
)

// Control ids handled by the router itself.
const (
	IDSetOption   = "set-option"
	IDQueryOption = "query-option"
)

// Logger defines the logging interface used by the control package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Router dispatches control requests to handlers.
//
// Thread Safety: Handle and Process are safe for concurrent use. Concurrent
// requests touching the same option are serialised by that option's update
// lock.
type Router struct {
	registry *registry.Registry
	setter   OptionSetter
	querier  OptionQuerier
	commands CommandHandler
	logger   Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithOptionSetter installs the strategy that applies option values to the device.
func WithOptionSetter(s OptionSetter) RouterOption {
	return func(r *Router) { r.setter = s }
}

// WithOptionQuerier installs the strategy that reads option values from the device.
func WithOptionQuerier(q OptionQuerier) RouterOption {
	return func(r *Router) { r.querier = q }
}

// WithCommandHandler installs the handler for device-specific control ids.
func WithCommandHandler(h CommandHandler) RouterOption {
	return func(r *Router) { r.commands = h }
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router resolving options against reg.
func NewRouter(reg *registry.Registry, opts ...RouterOption) *Router {
	r := &Router{registry: reg, logger: noopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of one processed request.
type Result struct {
	// Reply is the document to send on the notification channel.
	Reply flexible.Document

	// Change is the option mutation the request applied, if any. The
	// caller hands it to OptionObservers once the reply is out.
	Change *OptionChange
}

// Handle executes one control request.
//
// Parameters:
//   - id: The request's "id" field
//   - body: The full request document
//
// Returns:
//   - Fields: Success fields to merge into the reply
//   - error: An *Error describing the failure
func (r *Router) Handle(id string, body flexible.Document) (Fields, error) {
	fields, _, err := r.handle(id, body)
	return fields, err
}

func (r *Router) handle(id string, body flexible.Document) (Fields, *OptionChange, error) {
	switch id {
	case IDSetOption:
		return r.setOption(body)
	case IDQueryOption:
		fields, err := r.queryOption(body)
		return fields, nil, err
	}

	if r.commands != nil {
		var (
			fields  Fields
			handled bool
		)
		err := safeCall(func() error {
			var err error
			fields, handled, err = r.commands.HandleControl(id, body)
			return err
		})
		if err != nil {
			return nil, nil, callbackFailed(err)
		}
		if handled {
			return fields, nil, nil
		}
	}

	return nil, nil, invalidControl()
}

// Process runs a request and returns its reply document.
//
// The reply always carries the correlation token, the echoed id (when it is
// a string) and the echoed request. On failure it also carries
// "status": "error" and the explanation. The returned error is the handler
// failure, for logging and accounting; the reply already describes it.
func (r *Router) Process(body flexible.Document, sample flexible.Identity) (Result, error) {
	reply := BuildReply(sample, body)

	id, ok := body["id"].(string)
	if !ok {
		err := malformed("control message is missing a string 'id'")
		setFailure(reply, err)
		return Result{Reply: reply}, err
	}

	fields, change, err := r.handle(id, body)
	if err != nil {
		var cerr *Error
		if !errors.As(err, &cerr) {
			cerr = callbackFailed(err)
		}
		setFailure(reply, cerr)
		return Result{Reply: reply}, cerr
	}

	for k, v := range fields {
		if _, reserved := envelopeKeys[k]; reserved {
			continue
		}
		reply[k] = v
	}
	return Result{Reply: reply, Change: change}, nil
}
