package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/relay"
	"github.com/agentstation/banrelay/internal/server/response"
)

// HandleHealth handles GET /health (liveness).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		response.MethodNotAllowed(w, r.Method)
		return
	}
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "banrelay",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// readiness is the body of /ready.
type readiness struct {
	Status      string         `json:"status"`
	Upstream    string         `json:"upstream"`
	Subscribers int            `json:"subscribers"`
	Caches      []enrich.Stats `json:"caches"`
}

// HandleReady handles GET /ready. The relay is ready once the upstream is
// streaming; empty enrichment caches do not block readiness.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		response.MethodNotAllowed(w, r.Method)
		return
	}

	state := h.upstream.State()
	body := readiness{
		Status:      "ready",
		Upstream:    state.String(),
		Subscribers: h.registry.Len(),
		Caches:      h.enricher.Stats(),
	}

	if state != relay.StateStreaming {
		body.Status = "not_ready"
		response.ServiceUnavailable(w, "upstream is "+state.String(), body)
		return
	}
	response.OK(w, body)
}
