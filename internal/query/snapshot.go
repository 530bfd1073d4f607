package query

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/correction"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// Snapshot reads every device concurrently and returns the readings keyed by
// serial. A device that cannot be read yields a record with Error set. When
// corrected, each probe is corrected with the report nearest to now.
func (e *Engine) Snapshot(ctx context.Context, devices []*calibration.Device, corrected bool) map[string]types.Current {
	out := make(map[string]types.Current, len(devices))
	if len(devices) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(len(devices))
	for _, d := range devices {
		g.Go(func() error {
			rec := e.read(ctx, d)
			if corrected {
				e.correct(&rec, d)
			}
			mu.Lock()
			out[d.Serial] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) read(ctx context.Context, d *calibration.Device) types.Current {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rec := types.Current{Serial: d.Serial, Alias: d.Alias}
	probes := d.Components()
	values := make([]types.Triple, 0, len(probes))
	for _, p := range probes {
		t, err := e.device.Read(ctx, d.Serial, p)
		if err != nil {
			e.logger.Warn("device read failed", "serial", d.Serial, "alias", d.Alias, "probe", p.String(), "error", err)
			rec.Error = err.Error()
			values = nil
			break
		}
		values = append(values, t)
	}
	rec.Timestamp = e.now()

	for i, p := range probes {
		pr := types.ProbeReading{Probe: p}
		if values != nil {
			v := values[i]
			pr.Temperature, pr.Humidity, pr.Dewpoint = &v.Temperature, &v.Humidity, &v.Dewpoint
		}
		rec.Probes = append(rec.Probes, pr)
	}
	return rec
}

func (e *Engine) correct(rec *types.Current, d *calibration.Device) {
	numbers := make([]string, 0, d.Probes)
	for _, p := range d.Components() {
		r := calibration.FindNearest(d.Reports(p), rec.Timestamp)
		correction.Record(rec, r)
		numbers = append(numbers, r.Number)
	}
	rec.ReportNumber = strings.Join(numbers, ";")
}
