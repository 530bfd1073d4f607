package types

import "time"

// Telemetry is a reading published by the gateway that polls an iServer.
// Values holds 3 numbers per probe in store column order.
type Telemetry struct {
	Serial    string    `json:"serial"`
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
	Sequence  *int      `json:"sequence,omitempty"`
}
