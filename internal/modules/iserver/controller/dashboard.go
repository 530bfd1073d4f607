package controller

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/views"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// labelSeries is the window of one dashboard label.
type labelSeries struct {
	label  string
	device *calibration.Device
	series query.Series
}

func kindTitle(k types.Kind) string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

func (c *iserverControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := checkParams(r, noParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := c.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	data := views.DashboardData{
		Title:          c.dashboard.Title,
		Version:        c.version,
		RefreshSeconds: int(c.dashboard.RefreshInterval.Duration() / time.Second),
		Start:          utils.FormatISO(midnight),
		End:            utils.FormatISO(now),
	}
	if data.RefreshSeconds < 1 {
		data.RefreshSeconds = 1
	}
	for _, l := range c.engine.Catalog().Labels() {
		data.Labels = append(data.Labels, views.Option{Value: l.Label, Text: l.Label})
	}
	for _, k := range types.Kinds {
		data.Kinds = append(data.Kinds, views.Option{Value: k.String(), Text: kindTitle(k), Selected: k == types.Temperature})
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		c.logger.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	utils.WriteHTML(w, http.StatusOK, buf.Bytes())
}

// handleCurrentPartial renders the corrected live reading of every device.
func (c *iserverControllerImpl) handleCurrentPartial(w http.ResponseWriter, r *http.Request) {
	catalog := c.engine.Catalog()
	devices := catalog.Devices()
	records := c.engine.Snapshot(r.Context(), devices, true)

	var data views.CurrentData
	for _, d := range devices {
		rec, ok := records[d.Serial]
		if !ok {
			continue
		}
		cd := views.CurrentDevice{
			Header: fmt.Sprintf("%s [%s] - %s @ %s", rec.Serial, rec.ReportNumber, rec.Alias, rec.Timestamp.Format(time.TimeOnly)),
			Error:  rec.Error,
		}
		if rec.Error == "" {
			for _, p := range d.Components() {
				var values []views.Value
				for _, k := range types.Kinds {
					v, ok := rec.Value(p, k)
					text := "n/a"
					if ok {
						text = strconv.FormatFloat(v, 'f', 2, 64)
					}
					values = append(values, views.Value{Name: types.Field(k, p), Text: text})
				}
				cd.Probes = append(cd.Probes, values)
			}
		}
		data.Devices = append(data.Devices, cd)
	}

	var buf bytes.Buffer
	if err := views.RenderCurrentPartial(&buf, &data); err != nil {
		c.logger.Error("current readings partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	utils.WriteHTML(w, http.StatusOK, buf.Bytes())
}

// parseKind reads the single "type" of the dashboard requests; it defaults
// to temperature and accepts close misspellings.
func parseKind(r *http.Request) (types.Kind, error) {
	v := strings.TrimSpace(queryValues(r).Get("type"))
	if v == "" {
		return types.Temperature, nil
	}
	kinds, unmatched := query.MatchKinds([]string{v})
	if len(unmatched) > 0 || len(kinds) != 1 {
		return 0, fmt.Errorf("unknown type %q; valid types are: temperature, humidity, dewpoint", v)
	}
	return kinds[0], nil
}

// windows resolves the requested labels and reads their corrected windows.
func (c *iserverControllerImpl) windows(ctx context.Context, r *http.Request) (types.Kind, []labelSeries, int, error) {
	kind, err := parseKind(r)
	if err != nil {
		return 0, nil, http.StatusBadRequest, err
	}
	start, end, err := parseRange(r)
	if err != nil {
		return 0, nil, http.StatusBadRequest, err
	}

	catalog := c.engine.Catalog()
	var out []labelSeries
	for _, label := range queryValues(r)["label"] {
		d, p, ok := catalog.ByLabel(label)
		if !ok {
			return 0, nil, http.StatusBadRequest, fmt.Errorf("unknown label %q", label)
		}
		s, err := c.engine.Window(ctx, d, p, kind, start, end, true)
		if err != nil {
			c.logger.Error("window failed", "label", label, "error", err)
			return 0, nil, http.StatusInternalServerError, err
		}
		out = append(out, labelSeries{label: label, device: d, series: s})
	}
	return kind, out, http.StatusOK, nil
}

func formatStat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// handleSummaryPartial renders the statistics table of the selected labels.
func (c *iserverControllerImpl) handleSummaryPartial(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, summaryParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, windows, status, err := c.windows(r.Context(), r)
	if err != nil {
		utils.WriteError(w, status, err.Error())
		return
	}

	data := views.SummaryData{Kind: kindTitle(kind)}
	if len(windows) > 0 {
		data.Start = utils.FormatISO(windows[0].series.Start)
		data.End = utils.FormatISO(windows[0].series.End)
		q := url.Values{"type": {kind.String()}, "start": {data.Start}, "end": {data.End}}
		for _, ls := range windows {
			q.Add("label", ls.label)
		}
		data.DownloadURL = "/download?" + q.Encode()
	}
	for _, ls := range windows {
		s := ls.series
		report := calibration.FindNearest(ls.device.Reports(s.Probe), s.End)
		sum := query.Summarize(s.Points, report, kind)
		if n := s.ReportNumbers(); n != "" && kind != types.Dewpoint {
			sum.ReportNumber = n
		}
		row := views.SummaryRow{
			Label:        ls.label,
			ReportNumber: sum.ReportNumber,
			Description:  kindTitle(kind),
			Count:        sum.Count,
			OutOfRange:   sum.OutOfRange,
		}
		if sum.OutOfRange {
			row.Description += " [value out of range]"
		}
		if sum.Count > 0 {
			row.Average = formatStat(sum.Mean)
			row.Stdev = formatStat(sum.Stdev)
			row.Median = formatStat(sum.Median)
			row.Max = formatStat(sum.Max)
			row.Min = formatStat(sum.Min)
		}
		data.Rows = append(data.Rows, row)
	}

	var buf bytes.Buffer
	if err := views.RenderSummaryPartial(&buf, &data); err != nil {
		c.logger.Error("summary partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	utils.WriteHTML(w, http.StatusOK, buf.Bytes())
}
