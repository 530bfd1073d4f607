// Package validate decides whether a reading from a device is stored.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

const (
	SimpleRangeName = "simple-range"
	WithResetName   = "with-reset"

	DefaultResetCriterion = 5
)

var (
	ErrOutOfRange       = errors.New("value out of range")
	ErrUnknownValidator = errors.New("unknown validator")
)

// Validator returns nil for a reading that may be stored. values holds one
// temperature, humidity, dewpoint triple per probe.
type Validator interface {
	Validate(ctx context.Context, serial string, values []float64) error
}

// Resetter restarts a device.
type Resetter interface {
	Reset(ctx context.Context, serial string) error
}

// New builds the validator named in cfg. A nil cfg accepts everything.
func New(cfg *config.Validator, resetter Resetter, logger *slog.Logger) (Validator, error) {
	if cfg == nil {
		return acceptAll{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	rng := NewSimpleRange(cfg)
	switch cfg.Name {
	case SimpleRangeName:
		return rng, nil
	case WithResetName:
		if resetter == nil {
			return nil, fmt.Errorf("%s: no device resetter available", WithResetName)
		}
		return NewWithReset(rng, cfg.ResetCriterion, resetter, logger), nil
	default:
		return nil, fmt.Errorf("%w %q (allowed: %s, %s)", ErrUnknownValidator, cfg.Name, SimpleRangeName, WithResetName)
	}
}

type acceptAll struct{}

func (acceptAll) Validate(context.Context, string, []float64) error { return nil }

// SimpleRange rejects a reading with any value outside its bounds.
type SimpleRange struct {
	TMin, TMax float64
	HMin, HMax float64
	DMin, DMax float64
}

// NewSimpleRange applies cfg over the defaults 10–30 °C, 10–90 %rh and
// 0–20 °C dewpoint.
func NewSimpleRange(cfg *config.Validator) SimpleRange {
	r := SimpleRange{TMin: 10, TMax: 30, HMin: 10, HMax: 90, DMin: 0, DMax: 20}
	if cfg == nil {
		return r
	}
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.TMin, cfg.TMin)
	set(&r.TMax, cfg.TMax)
	set(&r.HMin, cfg.HMin)
	set(&r.HMax, cfg.HMax)
	set(&r.DMin, cfg.DMin)
	set(&r.DMax, cfg.DMax)
	return r
}

func (r SimpleRange) bounds(k types.Kind) (float64, float64) {
	switch k {
	case types.Temperature:
		return r.TMin, r.TMax
	case types.Humidity:
		return r.HMin, r.HMax
	default:
		return r.DMin, r.DMax
	}
}

func (r SimpleRange) Validate(_ context.Context, _ string, values []float64) error {
	for _, k := range types.Kinds {
		lo, hi := r.bounds(k)
		for i := int(k); i < len(values); i += len(types.Kinds) {
			if v := values[i]; !(v >= lo && v <= hi) {
				return fmt.Errorf("%w: %s value of %v is out of range [%v, %v]", ErrOutOfRange, k, v, lo, hi)
			}
		}
	}
	return nil
}

// WithReset resets a device after a run of rejected readings.
type WithReset struct {
	rng       SimpleRange
	criterion int
	resetter  Resetter
	logger    *slog.Logger

	mu       sync.Mutex
	counters map[string]int
}

func NewWithReset(rng SimpleRange, criterion int, resetter Resetter, logger *slog.Logger) *WithReset {
	if criterion <= 0 {
		criterion = DefaultResetCriterion
	}
	return &WithReset{
		rng:       rng,
		criterion: criterion,
		resetter:  resetter,
		logger:    logger,
		counters:  make(map[string]int),
	}
}

func (w *WithReset) Validate(ctx context.Context, serial string, values []float64) error {
	err := w.rng.Validate(ctx, serial, values)

	w.mu.Lock()
	if err == nil {
		w.counters[serial] = 0
		w.mu.Unlock()
		return nil
	}
	w.counters[serial]++
	reset := w.counters[serial] >= w.criterion
	if reset {
		w.counters[serial] = 0
	}
	w.mu.Unlock()

	if reset {
		w.logger.Warn("resetting device after bad readings", "serial", serial, "count", w.criterion)
		if rerr := w.resetter.Reset(ctx, serial); rerr != nil {
			w.logger.Error("device reset failed", "serial", serial, "error", rerr)
		}
	}
	return err
}
