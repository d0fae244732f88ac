package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/julienvalera/velib-harvester/internal/observability"
)

// NewRouter wires the operational routes. limiter guards POST /runs only; readTimeout
// bounds the read-only routes.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, readTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	read := router.NewRoute().Subrouter()
	read.Use(TimeoutMiddleware(readTimeout))
	read.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	read.HandleFunc("/runs/latest", h.GetLatestRun).Methods(http.MethodGet)

	trigger := router.NewRoute().Subrouter()
	trigger.Use(RateLimitMiddleware(limiter))
	trigger.HandleFunc("/runs", h.PostRun).Methods(http.MethodPost)
	return router
}
