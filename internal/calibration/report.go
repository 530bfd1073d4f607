package calibration

import (
	"encoding/json"
	"math"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// Uncalibrated is the report number of a synthetic report.
const Uncalibrated = "<uncalibrated>"

// Range is the calibrated range of one quantity and its correction
// polynomial. Coefficients[0] is the offset: x' = x + Σ c[k]·x^k.
type Range struct {
	Units               string
	Min                 float64
	Max                 float64
	Coefficients        []float64
	ExpandedUncertainty float64
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Report is a calibration report for one component of a device. A synthetic
// report stands in for a component that has never been calibrated: its
// numeric fields are NaN and it must never be applied.
type Report struct {
	Serial         string
	Component      string
	Probe          types.Probe
	Number         string
	Date           time.Time
	Start          time.Time
	End            time.Time
	CoverageFactor float64
	Confidence     string
	Temperature    Range
	Humidity       Range
	Synthetic      bool
}

// Dummy returns the synthetic report for an uncalibrated component.
func Dummy(serial string, probe types.Probe) Report {
	nan := math.NaN()
	rng := Range{Min: nan, Max: nan, Coefficients: []float64{nan}, ExpandedUncertainty: nan}
	return Report{
		Serial:         serial,
		Component:      probe.Component(),
		Probe:          probe,
		Number:         Uncalibrated,
		CoverageFactor: nan,
		Temperature:    rng,
		Humidity:       rng,
		Synthetic:      true,
	}
}

// Range returns the calibrated range for kind. Dewpoint has none.
func (r Report) Range(kind types.Kind) (Range, bool) {
	switch kind {
	case types.Temperature:
		return r.Temperature, true
	case types.Humidity:
		return r.Humidity, true
	default:
		return Range{}, false
	}
}

type rangeJSON struct {
	Units               string     `json:"units"`
	Min                 *float64   `json:"min"`
	Max                 *float64   `json:"max"`
	Coefficients        []*float64 `json:"coefficients"`
	ExpandedUncertainty *float64   `json:"expanded_uncertainty"`
}

type reportJSON struct {
	Serial         string    `json:"serial"`
	Component      string    `json:"component"`
	ReportNumber   string    `json:"report_number"`
	ReportDate     *string   `json:"report_date"`
	StartDate      *string   `json:"start_date"`
	EndDate        *string   `json:"end_date"`
	CoverageFactor *float64  `json:"coverage_factor"`
	Confidence     string    `json:"confidence"`
	Temperature    rangeJSON `json:"temperature"`
	Humidity       rangeJSON `json:"humidity"`
}

// MarshalJSON encodes NaN values and zero dates as null.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportJSON{
		Serial:         r.Serial,
		Component:      r.Component,
		ReportNumber:   r.Number,
		ReportDate:     date(r.Date),
		StartDate:      date(r.Start),
		EndDate:        date(r.End),
		CoverageFactor: num(r.CoverageFactor),
		Confidence:     r.Confidence,
		Temperature:    encodeRange(r.Temperature),
		Humidity:       encodeRange(r.Humidity),
	})
}

func encodeRange(rng Range) rangeJSON {
	coeffs := make([]*float64, len(rng.Coefficients))
	for i, c := range rng.Coefficients {
		coeffs[i] = num(c)
	}
	return rangeJSON{
		Units:               rng.Units,
		Min:                 num(rng.Min),
		Max:                 num(rng.Max),
		Coefficients:        coeffs,
		ExpandedUncertainty: num(rng.ExpandedUncertainty),
	}
}

func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func date(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := utils.FormatISO(t)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		s = t.Format("2006-01-02")
	}
	return &s
}
