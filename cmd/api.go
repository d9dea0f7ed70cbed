package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/wot"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// newRouter serves health, metrics and a read-only view of the trust graph.
func newRouter(w *wot.WebOfTrust, store pinger, gatherer prometheus.Gatherer, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSON(rw, log, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		writeJSON(rw, log, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	router.HandleFunc("/api/identities/{id}", func(rw http.ResponseWriter, r *http.Request) {
		identity, err := w.GetIdentity(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(rw, r, log, err)
			return
		}
		writeJSON(rw, log, http.StatusOK, identity)
	}).Methods("GET")

	router.HandleFunc("/api/identities/{id}/scores", func(rw http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, err := w.GetIdentity(r.Context(), id); err != nil {
			writeError(rw, r, log, err)
			return
		}
		scores, err := w.ScoresOf(r.Context(), id)
		if err != nil {
			writeError(rw, r, log, err)
			return
		}
		if scores == nil {
			scores = []db.Score{}
		}
		writeJSON(rw, log, http.StatusOK, scores)
	}).Methods("GET")
	return router
}

func writeError(rw http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, wot.ErrNotFound):
		writeJSON(rw, log, http.StatusNotFound, map[string]string{"error": err.Error()})
	case wot.IsUserFacing(err):
		writeJSON(rw, log, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(rw, log, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(rw http.ResponseWriter, log zerolog.Logger, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Debug().Err(err).Msg("writing response")
	}
}
