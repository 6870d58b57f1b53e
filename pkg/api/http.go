// Package api exposes the stream gateway over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamdb/pkg/config"
	"streamdb/pkg/models"
	"streamdb/pkg/stream"
	"streamdb/pkg/utils"
)

// API carries the collaborators the handlers need.
type API struct {
	backend *stream.Backend
}

// NewRouter builds the full HTTP surface: versioned JSON endpoints,
// health probe, prometheus metrics and per-client rate limiting.
func NewRouter(backend *stream.Backend, rl config.RateLimitConfig) http.Handler {
	a := &API{backend: backend}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	v1 := r.PathPrefix("/v1").Subrouter()
	if rl.RPS > 0 {
		pool := newLimiterPool(rl)
		v1.Use(pool.middleware)
	}

	v1.HandleFunc("/objects", a.createObject).Methods(http.MethodPost)
	v1.HandleFunc("/objects", a.getObjects).Methods(http.MethodGet)

	v1.HandleFunc("/activities", a.createActivity).Methods(http.MethodPost)
	v1.HandleFunc("/activities", a.getActivities).Methods(http.MethodGet)
	v1.HandleFunc("/activities/{id}", a.deleteActivity).Methods(http.MethodDelete)

	v1.HandleFunc("/activities/{id}/replies", a.createReply).Methods(http.MethodPost)
	v1.HandleFunc("/activities/{id}/likes", a.createLike).Methods(http.MethodPost)
	v1.HandleFunc("/replies/{id}", a.deleteReply).Methods(http.MethodDelete)
	v1.HandleFunc("/likes/{id}", a.deleteLike).Methods(http.MethodDelete)

	return r
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrConfiguration):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
