package query

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// FetchRequest selects devices by serial or alias (none means all) and the
// kinds to return by free-form type tokens (none means all).
type FetchRequest struct {
	Names     []string
	Start     time.Time
	End       time.Time
	Types     []string
	Corrected bool
}

// FetchResult is the historical data of one device.
type FetchResult struct {
	Alias        string
	Start        time.Time
	End          time.Time
	Warning      string
	Error        string
	Corrected    bool
	ReportNumber string
	// Series is keyed by store field: "temperature" on a 1-probe device,
	// "temperature1" and "temperature2" on a 2-probe device.
	Series map[string][]types.Point
}

func (f FetchResult) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"alias":         f.Alias,
		"start":         utils.FormatISO(f.Start),
		"end":           utils.FormatISO(f.End),
		"warning":       nil,
		"error":         nil,
		"report_number": nil,
	}
	if f.Warning != "" {
		m["warning"] = f.Warning
	}
	if f.Error != "" {
		m["error"] = f.Error
	}
	if f.Corrected {
		m["report_number"] = f.ReportNumber
	}
	for field, points := range f.Series {
		m[field] = points
	}
	return json.Marshal(m)
}

// Fetch returns the requested window for every selected device, keyed by
// serial. A failing store marks its own result and does not affect others.
func (e *Engine) Fetch(ctx context.Context, req FetchRequest) map[string]FetchResult {
	kinds, unmatched := MatchKinds(req.Types)
	var warning string
	if len(unmatched) > 0 {
		warning = "Unknown type value(s) received: " + strings.Join(unmatched, ",")
	}
	start, end := e.bounds(req.Start, req.End)

	out := make(map[string]FetchResult)
	for _, d := range e.catalog.Select(req.Names) {
		res := FetchResult{
			Alias:     d.Alias,
			Start:     start,
			End:       end,
			Warning:   warning,
			Corrected: req.Corrected,
			Series:    make(map[string][]types.Point),
		}
		labels := make([]string, 0, d.Probes)
		for _, p := range d.Components() {
			var label string
			for _, k := range kinds {
				s, err := e.Window(ctx, d, p, k, start, end, req.Corrected)
				if err != nil {
					e.logger.Error("fetch failed", "serial", d.Serial, "field", s.Field, "error", err)
					res.Error = err.Error()
					continue
				}
				res.Series[s.Field] = s.Points
				if label == "" {
					label = s.ReportNumbers()
				}
			}
			labels = append(labels, label)
		}
		if req.Corrected {
			res.ReportNumber = strings.Join(labels, ";")
		}
		out[d.Serial] = res
	}
	return out
}
