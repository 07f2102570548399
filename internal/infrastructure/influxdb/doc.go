// Package influxdb records device server telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - option_values: every applied set-option, tagged by device, stream
//     and option
//   - control_requests: outcome and duration of every control request
//
// Writes go through the batched non-blocking write API of
// influxdb-client-go; a failed batch is reported to the SetOnError
// callback rather than to the writer. A closed client drops points.
package influxdb
