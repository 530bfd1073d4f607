package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// Pinger checks the data stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerState reports whether the MQTT connection is up.
type BrokerState interface {
	IsConnected() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	stores Pinger
	broker BrokerState
}

func NewHealthchecker(stores Pinger, broker BrokerState) healthchecker {
	return &healthcheckerImpl{stores: stores, broker: broker}
}

// handleHealthz fails only when a store is unreachable; a lost broker is
// reported but the API can still serve logged data.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Ping(r.Context()); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	mqtt := "disconnected"
	if h.broker != nil && h.broker.IsConnected() {
		mqtt = "connected"
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "mqtt": mqtt})
}

func registerHealthcheck(mux *http.ServeMux, stores Pinger, broker BrokerState) {
	healthchecker := NewHealthchecker(stores, broker)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
