// Package calibration holds the calibration reports of every configured
// iServer and selects the report that applies at a given time.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrInvalidReport = errors.New("invalid calibration report")
	ErrInvalidAlias  = errors.New("invalid alias")
)

// Device is a configured iServer and its reports per component.
type Device struct {
	Serial string
	Alias  string
	Model  string
	Probes int
	DBPath string

	reports map[types.Probe][]Report
}

// Components returns the probes of the device in order.
func (d *Device) Components() []types.Probe {
	return types.ProbesFor(d.Probes)
}

// Reports returns the reports for probe p in configuration order, or a
// single synthetic report when the component was never calibrated.
func (d *Device) Reports(p types.Probe) []Report {
	if r := d.reports[p]; len(r) > 0 {
		return r
	}
	return []Report{Dummy(d.Serial, p)}
}

// Label is the dashboard name of one component: the alias, plus
// " - Probe N" on a 2-probe device.
func (d *Device) Label(p types.Probe) string {
	if p == types.ProbeSingle {
		return d.Alias
	}
	return d.Alias + " - " + p.Component()
}

// Label identifies one selectable component.
type Label struct {
	Label  string
	Serial string
	Probe  types.Probe
}

// Catalog is built once at startup and read-only afterwards.
type Catalog struct {
	devices  []*Device
	bySerial map[string]*Device
}

// NewCatalog parses every device named in f.Serials and its reports. Any
// malformed report is a fatal configuration error.
func NewCatalog(f config.File) (*Catalog, error) {
	c := &Catalog{bySerial: make(map[string]*Device)}
	for _, dc := range f.Selected() {
		alias := dc.Alias.String()
		if strings.Contains(alias, ";") {
			return nil, fmt.Errorf("%w %q: a semicolon separates multiple devices in a request", ErrInvalidAlias, alias)
		}
		d := &Device{
			Serial:  dc.Serial.String(),
			Alias:   alias,
			Model:   dc.Model,
			Probes:  dc.Probes,
			DBPath:  f.DBPath(dc),
			reports: make(map[types.Probe][]Report),
		}
		for i, rc := range dc.Calibrations {
			r, err := parseReport(d, rc)
			if err != nil {
				return nil, fmt.Errorf("device %s calibrations[%d]: %w", d.Serial, i, err)
			}
			d.reports[r.Probe] = append(d.reports[r.Probe], r)
		}
		c.devices = append(c.devices, d)
		c.bySerial[d.Serial] = d
	}
	return c, nil
}

func parseReport(d *Device, rc config.Report) (Report, error) {
	probe, err := types.ParseComponent(rc.Component, d.Probes)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if strings.TrimSpace(rc.Number) == "" {
		return Report{}, fmt.Errorf("%w: number is required", ErrInvalidReport)
	}
	r := Report{
		Serial:     d.Serial,
		Component:  probe.Component(),
		Probe:      probe,
		Number:     strings.TrimSpace(rc.Number),
		Confidence: rc.Confidence,
	}
	if r.Date, err = parseDate("date", rc.Date); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	if r.Start, err = parseDate("start_date", rc.StartDate); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	if r.End, err = parseDate("end_date", rc.EndDate); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	if r.CoverageFactor, err = parseNumber("coverage_factor", rc.CoverageFactor); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	if r.Temperature, err = parseRange("temperature", rc.Temperature); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	if r.Humidity, err = parseRange("humidity", rc.Humidity); err != nil {
		return Report{}, fmt.Errorf("%s: %w", r.Number, err)
	}
	return r, nil
}

func parseDate(name string, v config.Scalar) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidReport, name)
	}
	t, err := utils.ParseISO(v.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalidReport, name, err)
	}
	return t, nil
}

func parseNumber(name string, v config.Scalar) (float64, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidReport, name)
	}
	f, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidReport, name, v)
	}
	return f, nil
}

func parseRange(name string, rc *config.Range) (Range, error) {
	if rc == nil {
		return Range{}, fmt.Errorf("%w: %s is required", ErrInvalidReport, name)
	}
	var (
		rng Range
		err error
	)
	rng.Units = rc.Units
	if rng.Min, err = parseNumber(name+" min", rc.Min); err != nil {
		return Range{}, err
	}
	if rng.Max, err = parseNumber(name+" max", rc.Max); err != nil {
		return Range{}, err
	}
	if rng.ExpandedUncertainty, err = parseNumber(name+" expanded_uncertainty", rc.ExpandedUncertainty); err != nil {
		return Range{}, err
	}
	if len(rc.Coefficients) == 0 {
		return Range{}, fmt.Errorf("%w: %s coefficients are required", ErrInvalidReport, name)
	}
	for i, s := range rc.Coefficients {
		c, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %s coefficients[%d]: %q is not a number", ErrInvalidReport, name, i, s)
		}
		rng.Coefficients = append(rng.Coefficients, c)
	}
	return rng, nil
}

// Devices returns every device sorted by alias.
func (c *Catalog) Devices() []*Device {
	return c.devices
}

// Device returns the device with serial, or ErrUnknownDevice.
func (c *Catalog) Device(serial string) (*Device, error) {
	d, ok := c.bySerial[serial]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDevice, serial)
	}
	return d, nil
}

// Select returns the devices whose serial or alias is in requested, in
// alias order. No names selects every device.
func (c *Catalog) Select(requested []string) []*Device {
	if len(requested) == 0 {
		return c.devices
	}
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[r] = true
	}
	var out []*Device
	for _, d := range c.devices {
		if want[d.Serial] || want[d.Alias] {
			out = append(out, d)
		}
	}
	return out
}

// Aliases maps serial to alias.
func (c *Catalog) Aliases() map[string]string {
	out := make(map[string]string, len(c.devices))
	for _, d := range c.devices {
		out[d.Serial] = d.Alias
	}
	return out
}

// Reports returns the ordered report list of every component of a device.
func (c *Catalog) Reports(serial string) (map[types.Probe][]Report, error) {
	d, err := c.Device(serial)
	if err != nil {
		return nil, err
	}
	out := make(map[types.Probe][]Report, d.Probes)
	for _, p := range d.Components() {
		out[p] = d.Reports(p)
	}
	return out, nil
}

// Nearest returns, per component in probe order, the report whose start
// date is nearest to at. A zero at means now.
func (c *Catalog) Nearest(serial string, at time.Time) ([]Report, error) {
	d, err := c.Device(serial)
	if err != nil {
		return nil, err
	}
	out := make([]Report, 0, d.Probes)
	for _, p := range d.Components() {
		out = append(out, FindNearest(d.Reports(p), at))
	}
	return out, nil
}

// Labels returns one entry per component of every device.
func (c *Catalog) Labels() []Label {
	var out []Label
	for _, d := range c.devices {
		for _, p := range d.Components() {
			out = append(out, Label{Label: d.Label(p), Serial: d.Serial, Probe: p})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// ByLabel resolves a dashboard label back to its device and probe.
func (c *Catalog) ByLabel(label string) (*Device, types.Probe, bool) {
	for _, l := range c.Labels() {
		if l.Label == label {
			return c.bySerial[l.Serial], l.Probe, true
		}
	}
	return nil, types.ProbeSingle, false
}

// FindNearest returns the report minimising |at - Start|; on a tie the
// first one in the list wins. A zero at means now. An empty list yields a
// synthetic report.
func FindNearest(reports []Report, at time.Time) Report {
	if len(reports) == 0 {
		return Dummy("", types.ProbeSingle)
	}
	return reports[NearestIndex(reports, at)]
}

// NearestIndex is FindNearest returning the position in reports, or -1 for
// an empty list.
func NearestIndex(reports []Report, at time.Time) int {
	if len(reports) == 0 {
		return -1
	}
	if at.IsZero() {
		at = time.Now()
	}
	best := 0
	bestDiff := absDuration(at.Sub(reports[0].Start))
	for i := 1; i < len(reports); i++ {
		if d := absDuration(at.Sub(reports[i].Start)); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		if d == math.MinInt64 {
			return math.MaxInt64
		}
		return -d
	}
	return d
}
