// Package server provides the relay's downstream HTTP server: the
// subscriber websocket endpoint plus health, readiness and metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/internal/server/handlers"
	"github.com/agentstation/banrelay/internal/server/middleware"
	"github.com/agentstation/banrelay/pkg/logging"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	config    Config
	registry  *registry.Registry
	upstream  handlers.Upstream
	enricher  *enrich.Enricher
	upgrader  websocket.Upgrader
	limiter   *middleware.RateLimiter
	logger    *zerolog.Logger
	startTime time.Time
	version   string
	http      *http.Server
	done      chan struct{}
}

// New creates a new server instance with the given configuration.
func New(cfg Config, reg *registry.Registry, upstream handlers.Upstream, enricher *enrich.Enricher, logger *zerolog.Logger, version string) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	s := &Server{
		config:   cfg,
		registry: reg,
		upstream: upstream,
		enricher: enricher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Subscribers connect from anywhere
			},
		},
		logger:    logging.Component(logger, "server"),
		startTime: time.Now(),
		version:   version,
		done:      make(chan struct{}),
	}
	if cfg.ConnectRateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.ConnectRateLimit, s.logger)
		go s.limiter.Cleanup(s.done)
	}

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Serve accepts connections on l until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("HTTP server listening")
	if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections and closes every subscriber.
// Hijacked websocket connections are not tracked by http.Server, so they
// are closed through the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	err := s.http.Shutdown(ctx)

	subs := s.registry.Snapshot()
	for _, e := range subs {
		_ = e.Subscriber.Close()
	}
	s.logger.Info().Int("subscribers_closed", len(subs)).Msg("Subscribers closed")
	metrics.Subscribers.Set(0)
	return err
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
