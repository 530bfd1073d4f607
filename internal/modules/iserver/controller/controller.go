package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

// Engine answers live and historical queries.
type Engine interface {
	Catalog() *calibration.Catalog
	Snapshot(ctx context.Context, devices []*calibration.Device, corrected bool) map[string]types.Current
	Fetch(ctx context.Context, req query.FetchRequest) map[string]query.FetchResult
	Window(ctx context.Context, d *calibration.Device, p types.Probe, kind types.Kind, start, end time.Time, corrected bool) (query.Series, error)
}

// Databases summarises the stores.
type Databases interface {
	Info(ctx context.Context) (map[string]store.Info, error)
}

type IServerController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type iserverControllerImpl struct {
	engine    Engine
	databases Databases
	dashboard config.Dashboard
	version   string
	now       func() time.Time
	logger    *slog.Logger
}

func NewIServerController(engine Engine, databases Databases, dashboard config.Dashboard, version string, logger *slog.Logger) IServerController {
	if logger == nil {
		logger = slog.Default()
	}
	return &iserverControllerImpl{
		engine:    engine,
		databases: databases,
		dashboard: dashboard,
		version:   version,
		now:       func() time.Time { return time.Now().Truncate(time.Second) },
		logger:    logger,
	}
}

func (c *iserverControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /aliases", c.handleAliases)
	mux.HandleFunc("GET /now", c.handleNow)
	mux.HandleFunc("GET /fetch", c.handleFetch)
	mux.HandleFunc("GET /reports", c.handleReports)
	mux.HandleFunc("GET /databases", c.handleDatabases)
	mux.HandleFunc("GET /download", c.handleDownload)
	mux.HandleFunc("GET /help", c.handleHelp)
	mux.HandleFunc("GET /partials/current", c.handleCurrentPartial)
	mux.HandleFunc("GET /partials/summary", c.handleSummaryPartial)
	mux.HandleFunc("GET /", c.handleDashboard)
}
