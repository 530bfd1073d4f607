// Package query answers live and historical requests for iServer data,
// applying calibration corrections on the way out.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// DefaultLookback is the window length used when a request has no start.
const DefaultLookback = time.Hour

var ErrNoSource = errors.New("no data store for device")

// SensorDevice reads the current values of one probe of an iServer.
type SensorDevice interface {
	Read(ctx context.Context, serial string, probe types.Probe) (types.Triple, error)
}

// SeriesSource returns one column of a store between two timestamps.
type SeriesSource interface {
	Series(ctx context.Context, field string, start, end time.Time) ([]types.Point, error)
}

// Sources resolves the store of a device.
type Sources interface {
	Source(serial string) (SeriesSource, error)
}

type Engine struct {
	catalog  *calibration.Catalog
	device   SensorDevice
	sources  Sources
	timeout  time.Duration
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine wires the catalog to the live device reader and the stores.
// timeout bounds each device read.
func NewEngine(catalog *calibration.Catalog, device SensorDevice, sources Sources, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:  catalog,
		device:   device,
		sources:  sources,
		timeout:  timeout,
		lookback: DefaultLookback,
		now:      func() time.Time { return time.Now().Truncate(time.Second) },
		logger:   logger,
	}
}

func (e *Engine) Catalog() *calibration.Catalog { return e.catalog }

// bounds fills in a missing end (now) and a missing start (end - lookback).
func (e *Engine) bounds(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = e.now()
	}
	if start.IsZero() {
		start = end.Add(-e.lookback)
	}
	return start, end
}
