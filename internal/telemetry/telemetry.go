// Package telemetry forwards applied option changes and control request
// outcomes to a time-series store.
package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-devserver/internal/control"
	"github.com/nerrad567/gray-logic-devserver/internal/server"
)

// Request outcome tags.
const (
	statusOK    = "ok"
	statusError = "error"
)

// Writer is the subset of the InfluxDB client used for telemetry.
type Writer interface {
	WriteOptionValue(device, stream, option string, value float64, at time.Time)
	WriteControlRequest(device, request, status string, elapsed time.Duration)
}

// Recorder writes every applied option change and every handled control
// request as a time-series point.
//
// Writes are batched and non-blocking, so OptionChanged never fails;
// delivery errors surface through the writer's own error callback.
type Recorder struct {
	w      Writer
	device string
}

// NewRecorder creates a Recorder tagging points with the given device topic root.
func NewRecorder(w Writer, device string) *Recorder {
	return &Recorder{w: w, device: device}
}

// OptionChanged implements control.OptionObserver.
func (r *Recorder) OptionChanged(_ context.Context, change control.OptionChange) error {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	r.w.WriteOptionValue(r.device, change.Stream, change.Option, change.Value, at)
	return nil
}

// RequestHandled implements server.RequestObserver.
func (r *Recorder) RequestHandled(id string, err error, elapsed time.Duration) {
	status := statusOK
	if err != nil {
		status = statusError
	}
	r.w.WriteControlRequest(r.device, id, status, elapsed)
}

var (
	_ control.OptionObserver = (*Recorder)(nil)
	_ server.RequestObserver = (*Recorder)(nil)
)
