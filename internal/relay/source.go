package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/errors"
)

// subscribeFrame asks the node for confirmation events.
var subscribeFrame = []byte(`{"action":"subscribe","topic":"confirmation"}`)

// Source opens connections to the upstream event feed.
type Source interface {
	Connect(ctx context.Context) (Stream, error)
	Endpoint() string
}

// Stream is one upstream connection.
type Stream interface {
	// Subscribe requests confirmation events. It is sent once per connection.
	Subscribe(ctx context.Context) error
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	// Close terminates the connection. Safe to call more than once and
	// concurrently with Read, which then returns an error.
	Close() error
}

// WebsocketSource connects to a node websocket.
type WebsocketSource struct {
	url    string
	dialer *websocket.Dialer
	header http.Header

	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewWebsocketSource creates a source for url.
func NewWebsocketSource(url string) *WebsocketSource {
	return &WebsocketSource{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: constants.DialTimeout,
		},
		pingPeriod: constants.UpstreamPingPeriod,
		pongWait:   constants.UpstreamPongWait,
	}
}

// Endpoint implements Source.
func (s *WebsocketSource) Endpoint() string {
	return s.url
}

// Connect implements Source.
func (s *WebsocketSource) Connect(ctx context.Context) (Stream, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransport("upstream", "dial", s.url, err)
	}

	stream := &wsStream{conn: conn, endpoint: s.url, done: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	go stream.keepalive(s.pingPeriod)
	return stream, nil
}

type wsStream struct {
	conn     *websocket.Conn
	endpoint string
	done     chan struct{}
	once     sync.Once
	closeErr error
}

// keepalive pings the node until the stream closes. A node that stops
// answering lets the read deadline lapse, which fails Read.
func (s *wsStream) keepalive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) Subscribe(_ context.Context) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, subscribeFrame); err != nil {
		return errors.WrapTransport("upstream", "subscribe", s.endpoint, err)
	}
	return nil
}

func (s *wsStream) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WrapTransport("upstream", "read", s.endpoint, err)
	}
	return data, nil
}

func (s *wsStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(constants.WriteTimeout))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
