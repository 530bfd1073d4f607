package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/correction"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// Series is one column of one component between Start and End.
type Series struct {
	Field  string
	Kind   types.Kind
	Probe  types.Probe
	Start  time.Time
	End    time.Time
	Points []types.Point
	// Reports are the reports that cover the points, in first-use order.
	// Empty for an uncorrected window.
	Reports []calibration.Report
}

// ReportNumbers joins the numbers of the covering reports with ",".
func (s Series) ReportNumbers() string {
	numbers := make([]string, len(s.Reports))
	for i, r := range s.Reports {
		numbers[i] = r.Number
	}
	return strings.Join(numbers, ",")
}

// Window returns the readings of kind for probe p of d with
// start <= timestamp <= end, in insertion order. A zero end means now and a
// zero start means DefaultLookback before end. When corrected, every row is
// corrected with the report whose start date is nearest to the row's own
// timestamp.
func (e *Engine) Window(ctx context.Context, d *calibration.Device, p types.Probe, kind types.Kind, start, end time.Time, corrected bool) (Series, error) {
	start, end = e.bounds(start, end)
	s := Series{
		Field: types.Field(kind, p),
		Kind:  kind,
		Probe: p,
		Start: start,
		End:   end,
	}

	src, err := e.sources.Source(d.Serial)
	if err != nil {
		return s, err
	}
	if start.After(end) {
		s.Points = []types.Point{}
	} else if s.Points, err = src.Series(ctx, s.Field, start, end); err != nil {
		return s, fmt.Errorf("%s %s: %w", d.Alias, s.Field, err)
	}

	if corrected {
		s.Reports = applyNearest(s.Points, d.Reports(p), kind, end)
	}
	return s, nil
}

// applyNearest corrects each run of points that shares a nearest report and
// returns the reports used. With no points the report nearest to fallback
// is returned.
func applyNearest(points []types.Point, reports []calibration.Report, kind types.Kind, fallback time.Time) []calibration.Report {
	if len(points) == 0 {
		return []calibration.Report{calibration.FindNearest(reports, fallback)}
	}

	var used []calibration.Report
	seen := make(map[int]bool)
	runStart, runIdx := 0, calibration.NearestIndex(reports, points[0].Timestamp)
	flush := func(end int) {
		r := reports[runIdx]
		correction.Series(points[runStart:end], r, kind)
		if !seen[runIdx] {
			seen[runIdx] = true
			used = append(used, r)
		}
	}
	for i := 1; i < len(points); i++ {
		idx := calibration.NearestIndex(reports, points[i].Timestamp)
		if idx != runIdx {
			flush(i)
			runStart, runIdx = i, idx
		}
	}
	flush(len(points))
	return used
}
