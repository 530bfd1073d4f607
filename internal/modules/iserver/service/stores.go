package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
)

// Stores holds the open store of every configured device, keyed by serial.
type Stores struct {
	catalog  *calibration.Catalog
	bySerial map[string]*store.Store
	logger   *slog.Logger
}

// OpenStores opens (creating when needed) the store of every device in the
// catalog. On error the stores opened so far are closed.
func OpenStores(ctx context.Context, catalog *calibration.Catalog, opts db.Options, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stores{catalog: catalog, bySerial: make(map[string]*store.Store), logger: logger}
	for _, d := range catalog.Devices() {
		st, err := store.Open(ctx, d.DBPath, d.Probes, opts, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open store for %s: %w", d.Serial, err)
		}
		s.bySerial[d.Serial] = st
		logger.Info("store opened", "serial", d.Serial, "alias", d.Alias, "path", d.DBPath)
	}
	return s, nil
}

// Get returns the store of serial.
func (s *Stores) Get(serial string) (*store.Store, error) {
	st, ok := s.bySerial[serial]
	if !ok {
		return nil, fmt.Errorf("%w %q", query.ErrNoSource, serial)
	}
	return st, nil
}

func (s *Stores) Source(serial string) (query.SeriesSource, error) {
	return s.Get(serial)
}

// Info returns the summary of every store keyed by serial. A store that
// cannot be summarised is logged and left out.
func (s *Stores) Info(ctx context.Context) (map[string]store.Info, error) {
	out := make(map[string]store.Info, len(s.bySerial))
	for _, d := range s.catalog.Devices() {
		st, ok := s.bySerial[d.Serial]
		if !ok {
			continue
		}
		info, err := st.Info(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("store info failed", "serial", d.Serial, "error", err)
			continue
		}
		info.Alias = d.Alias
		out[d.Serial] = info
	}
	return out, nil
}

// Ping checks every store connection.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	for serial, st := range s.bySerial {
		if err := st.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", serial, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stores) Close() error {
	var errs []error
	for serial, st := range s.bySerial {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", serial, err))
		}
	}
	return errors.Join(errs...)
}
