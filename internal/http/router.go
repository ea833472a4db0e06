package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/traffic"
)

// RouterConfig wires the handler and its middleware.
type RouterConfig struct {
	Handler        *Handler
	Logger         *zap.Logger
	InFlight       *InFlightTracker
	Tracker        *traffic.Tracker
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration // 0 disables the per-request deadline
}

// NewRouter registers /health, /metrics and POST /{flowName}. Rate limiting and the
// request deadline apply to flow routes only.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inFlight := cfg.InFlight
	if inFlight == nil {
		inFlight = &InFlightTracker{}
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware(inFlight))
	router.HandleFunc("/health", cfg.Handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	flowRouter := router.NewRoute().Subrouter()
	flowRouter.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	flowRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	flowRouter.HandleFunc("/{flowName}", cfg.Handler.RunFlow).Methods(http.MethodPost)
	return router
}
