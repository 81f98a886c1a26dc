// Package websocket implements downstream subscriber connections.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/internal/server/response"
	"github.com/agentstation/banrelay/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum filter-update message size allowed from peer.
	maxMessageSize = 4096
)

// Conn is one subscriber connection. It implements registry.Subscriber.
type Conn struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	registry *registry.Registry
	logger   *zerolog.Logger
}

// NewConn wraps an upgraded connection. queueSize bounds the frames
// buffered for a slow peer before it is dropped. logger is expected to
// carry the subscriber ID already.
func NewConn(id string, conn *websocket.Conn, reg *registry.Registry, queueSize int, logger *zerolog.Logger) *Conn {
	return &Conn{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		registry: reg,
		logger:   logger,
	}
}

// ID implements registry.Subscriber.
func (c *Conn) ID() string {
	return c.id
}

// Send implements registry.Subscriber. It never blocks.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return errors.ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errors.ErrClosed
	default:
		return errors.ErrQueueFull
	}
}

// Close implements registry.Subscriber. The write pump sends a close frame
// and tears the socket down; the read pump then unregisters.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve registers the connection with the default filter and runs both
// pumps. It returns immediately.
func (c *Conn) Serve() {
	f := c.registry.Add(c)
	c.logger.Info().
		Str("filter", string(f.Mode)).
		Int("total_subscribers", c.registry.Len()).
		Msg("Subscriber connected")

	go c.WritePump()
	go c.ReadPump()
}

// ReadPump applies filter updates from the peer until the connection ends.
func (c *Conn) ReadPump() {
	defer func() {
		if c.registry.Remove(c) {
			c.logger.Info().
				Int("total_subscribers", c.registry.Len()).
				Msg("Subscriber disconnected")
		}
		_ = c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(errors.WrapTransport("downstream", "read", c.id, err)).Msg("WebSocket read error")
			}
			return
		}
		c.applyUpdate(data)
	}
}

// applyUpdate replaces the stored filter, or replies with one error frame
// and leaves the filter unchanged.
func (c *Conn) applyUpdate(data []byte) {
	f, err := filter.ParseUpdate(data)
	if err != nil {
		metrics.FilterUpdates.WithLabelValues("rejected").Inc()
		c.logger.Debug().Err(err).Msg("Rejected filter update")
		if sendErr := c.Send(response.FilterRejected(err)); sendErr != nil {
			c.logger.Warn().Err(sendErr).Msg("Could not queue error frame")
		}
		return
	}

	if err := c.registry.Update(c, f); err != nil {
		// Dropped by the relay between read and update.
		metrics.FilterUpdates.WithLabelValues("unregistered").Inc()
		return
	}
	metrics.FilterUpdates.WithLabelValues("applied").Inc()
	c.logger.Debug().
		Str("filter", string(f.Mode)).
		Int("blocktypes", len(f.BlockTypes)).
		Int("accounts", len(f.Accounts)).
		Msg("Filter updated")
}

// WritePump writes queued frames and keepalive pings to the peer.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(errors.WrapTransport("downstream", "write", c.id, err)).Msg("WebSocket write failed")
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
