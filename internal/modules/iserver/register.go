package iserver

import (
	"log/slog"
	"net/http"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/controller"
	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/service"
	"github.com/MSLNZ/pr-omega-logger/internal/mqtt"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/validate"
)

type Deps struct {
	Engine    *query.Engine
	Stores    *service.Stores
	Telemetry mqtt.TelemetrySource
	Validator validate.Validator
	Dashboard config.Dashboard
	Version   string
	Logger    *slog.Logger
}

// RegisterFeature wires the iServer HTTP routes and the telemetry ingest.
func RegisterFeature(mux *http.ServeMux, deps Deps) {
	iserverService := service.NewService(deps.Engine.Catalog(), deps.Stores, deps.Validator, deps.Logger)
	iserverService.Register(deps.Telemetry)

	iserverController := controller.NewIServerController(deps.Engine, deps.Stores, deps.Dashboard, deps.Version, deps.Logger)
	iserverController.RegisterRoutes(mux)
}
