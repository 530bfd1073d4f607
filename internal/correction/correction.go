// Package correction applies calibration polynomials to raw readings.
package correction

import (
	"math"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// Polynomial returns x + c[0] + c[1]·x + c[2]·x² + ...
func Polynomial(x float64, c []float64) float64 {
	if len(c) == 0 {
		return x
	}
	dx := c[0]
	pow := 1.0
	for _, ck := range c[1:] {
		pow *= x
		dx += ck * pow
	}
	return x + dx
}

// Value corrects a single reading of kind with report r. Dewpoint and
// synthetic reports return x unchanged, as do NaN readings.
func Value(x float64, r calibration.Report, kind types.Kind) float64 {
	if !applies(r, kind) || math.IsNaN(x) {
		return x
	}
	rng, _ := r.Range(kind)
	return Polynomial(x, rng.Coefficients)
}

// Series corrects points in place.
func Series(points []types.Point, r calibration.Report, kind types.Kind) {
	if !applies(r, kind) {
		return
	}
	for i := range points {
		points[i].Value = Value(points[i].Value, r, kind)
	}
}

// Record corrects the temperature and humidity of the probes of rec that r
// was issued for. A record carrying an error is left untouched.
func Record(rec *types.Current, r calibration.Report) {
	if rec == nil || rec.Error != "" || r.Synthetic {
		return
	}
	for i := range rec.Probes {
		pr := &rec.Probes[i]
		if r.Probe != types.ProbeSingle && pr.Probe != r.Probe {
			continue
		}
		pr.Temperature = correctPtr(pr.Temperature, r, types.Temperature)
		pr.Humidity = correctPtr(pr.Humidity, r, types.Humidity)
	}
}

func correctPtr(v *float64, r calibration.Report, kind types.Kind) *float64 {
	if v == nil {
		return nil
	}
	c := Value(*v, r, kind)
	return &c
}

func applies(r calibration.Report, kind types.Kind) bool {
	return !r.Synthetic && kind != types.Dewpoint
}
