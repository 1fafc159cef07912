package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rollkit/l1-committer/block"
)

// StatusProvider reports the current commitment status.
type StatusProvider interface {
	CurrentStatus(ctx context.Context) (block.StatusReport, error)
}

// NewHandler builds the HTTP handler of the committer. Metrics are served
// only when gatherer is not nil.
func NewHandler(status StatusProvider, gatherer prometheus.Gatherer, logger log.Logger) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/status", statusHandler(status, logger)).Methods(http.MethodGet)
	router.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if _, err := status.CurrentStatus(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "UNAVAILABLE")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(router)
}

func statusHandler(status StatusProvider, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := status.CurrentStatus(r.Context())
		if err != nil {
			logger.Error("failed to determine status", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
