package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/banrelay/internal/server/handlers"
	"github.com/agentstation/banrelay/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(handlers.Deps{
		Registry:  s.registry,
		Upstream:  s.upstream,
		Enricher:  s.enricher,
		Upgrader:  s.upgrader,
		QueueSize: s.config.QueueSize,
		Logger:    s.logger,
		StartTime: s.startTime,
		Version:   s.version,
	})

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/ready", h.HandleReady)

	// Subscriber websocket: the root path, with /ws as an alias.
	subscribe := s.limitUpgrades(http.HandlerFunc(h.HandleSubscribe))
	mux.Handle("/ws", subscribe)
	mux.Handle("/{$}", subscribe)

	if s.config.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

// limitUpgrades applies the per-IP connect limit to websocket upgrades only.
func (s *Server) limitUpgrades(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return middleware.RateLimit(s.limiter)(next)
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
	)(handler)
}
