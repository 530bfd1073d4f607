package query

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// Uncorrected is shown as the report of a dewpoint summary.
const Uncorrected = "<uncorrected>"

// Summary holds the statistics of one series for the dashboard table.
type Summary struct {
	Kind         types.Kind
	ReportNumber string
	Count        int
	Mean         float64
	Stdev        float64
	Median       float64
	Max          float64
	Min          float64
	// OutOfRange is set when a value lies outside the calibrated range of
	// the report. Dewpoint is never flagged.
	OutOfRange bool
}

// Summarize computes the statistics of points. The standard deviation is the
// population one. An empty series yields a zero Count and NaN statistics.
func Summarize(points []types.Point, r calibration.Report, kind types.Kind) Summary {
	s := Summary{Kind: kind, ReportNumber: r.Number, Count: len(points)}
	if kind == types.Dewpoint {
		s.ReportNumber = Uncorrected
	}
	if len(points) == 0 {
		nan := math.NaN()
		s.Mean, s.Stdev, s.Median, s.Max, s.Min = nan, nan, nan, nan, nan
		return s
	}

	x := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Value
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	s.Mean = mean
	s.Stdev = math.Sqrt(variance)
	s.Max = floats.Max(x)
	s.Min = floats.Min(x)
	s.Median = median(x)

	if rng, ok := r.Range(kind); ok && !r.Synthetic {
		s.OutOfRange = s.Max > rng.Max || s.Min < rng.Min
	}
	return s
}

// median sorts x in place.
func median(x []float64) float64 {
	sort.Float64s(x)
	n := len(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return (x[n/2-1] + x[n/2]) / 2
}
