package httpapi

import (
	"net/http"
)

func NewMux(stores Pinger, broker BrokerState) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, stores, broker)
	return mux
}
