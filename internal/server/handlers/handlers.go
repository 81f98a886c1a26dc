// Package handlers provides HTTP request handlers for the relay server.
package handlers

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/internal/relay"
)

// Upstream reports the relay's connection state.
type Upstream interface {
	State() relay.State
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	registry  *registry.Registry
	upstream  Upstream
	enricher  *enrich.Enricher
	upgrader  websocket.Upgrader
	queueSize int
	logger    *zerolog.Logger
	startTime time.Time
	version   string
}

// Deps are the components the handlers report on or serve.
type Deps struct {
	Registry  *registry.Registry
	Upstream  Upstream
	Enricher  *enrich.Enricher
	Upgrader  websocket.Upgrader
	QueueSize int
	Logger    *zerolog.Logger
	StartTime time.Time
	Version   string
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	return &Handlers{
		registry:  d.Registry,
		upstream:  d.Upstream,
		enricher:  d.Enricher,
		upgrader:  d.Upgrader,
		queueSize: d.QueueSize,
		logger:    d.Logger,
		startTime: d.StartTime,
		version:   d.Version,
	}
}
