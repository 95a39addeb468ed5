// Package httpapi exposes the orchestrator's catalog, run, schedule,
// artifact, and dashboard operations over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/testorch/internal/aggregation"
	"github.com/R3E-Network/testorch/internal/config"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/store"
	"github.com/R3E-Network/testorch/internal/system"
	"github.com/R3E-Network/testorch/internal/system/health"
)

var _ system.Service = (*Service)(nil)

// Service is the HTTP API's lifecycle-managed front door.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logging.Logger
	hub     *Hub
	agg     *aggregation.Aggregator
	cancel  context.CancelFunc
}

// Deps bundles every dependency the HTTP surface routes against.
type Deps struct {
	Store        *store.Store
	Aggregator   *aggregation.Aggregator
	Health       *health.Reporter
	Config       *config.Config
	Metrics      *metrics.Metrics
	Log          *logging.Logger
	Hub          *Hub
	ArtifactRoot string
}

// NewService builds the HTTP API service bound to addr (":PORT"). Requests
// flow logging -> recovery -> CORS -> router; the router's own middleware
// chain (rate limiting, then metrics) runs only for matched routes, since
// metrics needs the matched route's path template from mux.CurrentRoute.
func NewService(addr string, deps Deps) *Service {
	router := mux.NewRouter()

	perMinute := deps.Config.App.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	ratePerSecond := float64(perMinute) / 60.0
	ipLimiter := newRateLimiter(20, 40)
	emailLimiter := newRateLimiter(ratePerSecond, perMinute)
	registerRoutes(router, deps, ipLimiter, emailLimiter)

	// CORS is wrapped outside the router (not via router.Use) because a
	// preflight OPTIONS request never matches a registered GET/POST/etc.
	// route, so mux's own middleware chain would never run for it.
	handler := http.Handler(router)
	handler = corsMiddleware(defaultCORSConfig())(handler)
	handler = recoveryMiddleware(deps.Log)(handler)
	handler = loggingMiddleware(deps.Log)(handler)

	return &Service{addr: addr, handler: handler, log: deps.Log, hub: deps.Hub, agg: deps.Aggregator}
}

// Name identifies the service for the lifecycle manager.
func (s *Service) Name() string { return "httpapi" }

// Descriptor advertises the HTTP surface's architectural placement.
func (s *Service) Descriptor() system.Descriptor {
	return system.Descriptor{Name: "httpapi", Layer: system.LayerIngress, Capabilities: []string{"rest", "websocket"}}
}

// Start binds the listener and serves in the background.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()

	if s.hub != nil && s.agg != nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.hub.RunPoller(pollCtx, s.agg)
	}

	s.log.WithContext(ctx).WithField("addr", s.addr).Info("httpapi started")
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.log.WithContext(ctx).Info("httpapi stopped")
	return nil
}
