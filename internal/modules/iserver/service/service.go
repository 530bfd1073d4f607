package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/mqtt"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/validate"
)

var ErrProbeMismatch = errors.New("telemetry does not match the probe count of the device")

// appender is the part of a store the ingest path writes to.
type appender interface {
	Append(ctx context.Context, ts time.Time, values []float64) (int64, error)
}

type Service struct {
	catalog   *calibration.Catalog
	stores    func(serial string) (appender, error)
	validator validate.Validator
	logger    *slog.Logger
}

func NewService(catalog *calibration.Catalog, stores *Stores, validator validate.Validator, logger *slog.Logger) *Service {
	return newService(catalog, func(serial string) (appender, error) { return stores.Get(serial) }, validator, logger)
}

func newService(catalog *calibration.Catalog, stores func(string) (appender, error), validator validate.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator, _ = validate.New(nil, nil, logger)
	}
	return &Service{catalog: catalog, stores: stores, validator: validator, logger: logger}
}

// Register attaches the ingest handler to the telemetry source.
func (s *Service) Register(source mqtt.TelemetrySource) {
	registerMQTTHandler(source, s)
}

// Ingest validates one telemetry message and appends it to the device's
// store. Messages from unknown devices, with the wrong number of values or
// rejected by the validator are logged and dropped without an error.
func (s *Service) Ingest(ctx context.Context, t types.Telemetry) error {
	d, err := s.catalog.Device(t.Serial)
	if err != nil {
		s.logger.Warn("dropping telemetry from unknown device", "serial", t.Serial)
		return nil
	}
	if want := d.Probes * len(types.Kinds); len(t.Values) != want {
		s.logger.Warn("dropping telemetry",
			"serial", t.Serial,
			"error", ErrProbeMismatch,
			"values", len(t.Values),
			"want", want,
		)
		return nil
	}
	if err := s.validator.Validate(ctx, t.Serial, t.Values); err != nil {
		s.logger.Warn("rejected telemetry", "serial", t.Serial, "alias", d.Alias, "error", err)
		return nil
	}

	st, err := s.stores(t.Serial)
	if err != nil {
		return err
	}
	ts := t.Timestamp.In(time.Local).Truncate(time.Second)
	if _, err := st.Append(ctx, ts, t.Values); err != nil {
		if errors.Is(err, store.ErrValueCount) {
			s.logger.Warn("dropping telemetry", "serial", t.Serial, "error", err)
			return nil
		}
		return err
	}
	return nil
}
