package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the device server.
const (
	MeasurementOptionValues    = "option_values"
	MeasurementControlRequests = "control_requests"
)

// deviceScope is the stream tag used for device-level options.
const deviceScope = "device"

// WriteOptionValue records an applied option value.
//
// Parameters:
//   - device: Topic root of the device
//   - stream: Stream name, or "" for a device-level option
//   - option: Option name (e.g., "Exposure")
//   - value: The value after the set
//   - at: Time the value was applied
func (c *Client) WriteOptionValue(device, stream, option string, value float64, at time.Time) {
	if stream == "" {
		stream = deviceScope
	}

	c.write(
		MeasurementOptionValues,
		map[string]string{
			"device": device,
			"stream": stream,
			"option": option,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

// WriteControlRequest records the outcome of one control request.
//
// Parameters:
//   - device: Topic root of the device
//   - request: Request id (e.g., "set-option", "query-option")
//   - status: "ok" or "error"
//   - elapsed: Time spent handling the request
func (c *Client) WriteControlRequest(device, request, status string, elapsed time.Duration) {
	c.write(
		MeasurementControlRequests,
		map[string]string{
			"device":  device,
			"request": request,
			"status":  status,
		},
		map[string]interface{}{
			"duration_ms": float64(elapsed) / float64(time.Millisecond),
		},
		time.Now(),
	)
}

// write queues one point; it is dropped once the client is closed.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
