package handlers

import (
	"net/http"

	"github.com/google/uuid"

	ws "github.com/agentstation/banrelay/internal/server/websocket"
	"github.com/agentstation/banrelay/pkg/logging"
)

// HandleSubscribe upgrades the request to a subscriber websocket.
// The connection starts with the default filter until the peer sends an
// update.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	id := uuid.NewString()
	ctx := logging.WithSubscriber(logging.WithLogger(r.Context(), h.logger), id)
	logger := logging.Ctx(ctx)
	logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgraded")

	ws.NewConn(id, conn, h.registry, h.queueSize, logger).Serve()
}
