package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// Triple is one probe's reading as returned by a device.
type Triple struct {
	Temperature float64
	Humidity    float64
	Dewpoint    float64
}

func (t Triple) Get(k Kind) float64 {
	switch k {
	case Temperature:
		return t.Temperature
	case Humidity:
		return t.Humidity
	default:
		return t.Dewpoint
	}
}

// Point is one sample of a series. It encodes as ["YYYY-MM-DDTHH:MM:SS", value].
type Point struct {
	Timestamp time.Time
	Value     float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{utils.FormatISO(p.Timestamp), finite(p.Value)})
}

// ProbeReading holds one probe's values in a live record; nil means unavailable.
type ProbeReading struct {
	Probe       Probe
	Temperature *float64
	Humidity    *float64
	Dewpoint    *float64
}

// Current is a live reading of one device.
type Current struct {
	Serial       string
	Alias        string
	Timestamp    time.Time
	Error        string
	ReportNumber string
	Probes       []ProbeReading
}

func (c Current) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"alias":         c.Alias,
		"timestamp":     utils.FormatISO(c.Timestamp),
		"error":         nullable(c.Error),
		"report_number": nullable(c.ReportNumber),
	}
	for _, p := range c.Probes {
		m[Field(Temperature, p.Probe)] = ptrValue(p.Temperature)
		m[Field(Humidity, p.Probe)] = ptrValue(p.Humidity)
		m[Field(Dewpoint, p.Probe)] = ptrValue(p.Dewpoint)
	}
	return json.Marshal(m)
}

// Value returns the reading of kind k for probe p, if present.
func (c Current) Value(p Probe, k Kind) (float64, bool) {
	for _, pr := range c.Probes {
		if pr.Probe != p {
			continue
		}
		var v *float64
		switch k {
		case Temperature:
			v = pr.Temperature
		case Humidity:
			v = pr.Humidity
		default:
			v = pr.Dewpoint
		}
		if v == nil {
			return 0, false
		}
		return *v, true
	}
	return 0, false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrValue(v *float64) any {
	if v == nil {
		return nil
	}
	return finite(*v)
}

// finite maps NaN and ±Inf to nil so they encode as JSON null.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
