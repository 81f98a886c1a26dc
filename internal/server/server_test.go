package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/internal/relay"
	"github.com/agentstation/banrelay/internal/server/response"
	"github.com/agentstation/banrelay/pkg/banano"
	"github.com/agentstation/banrelay/pkg/logging"
)

const validAccount = "ban_1bananobh5rat99qfgt1ptpieie5swmoth87thi74qgbfrij7dcgjiij94xr"

type fakeUpstream struct {
	state atomic.Int32
}

func (u *fakeUpstream) State() relay.State { return relay.State(u.state.Load()) }

type harness struct {
	srv      *Server
	http     *httptest.Server
	registry *registry.Registry
	upstream *fakeUpstream
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ConnectRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		registry: registry.New(logging.NewNopLogger()),
		upstream: &fakeUpstream{},
	}
	h.srv = New(cfg, h.registry, h.upstream, enrich.NewEnricher(nil, nil), logging.NewNopLogger(), "test")
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.http.URL, "http")+path, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.registry.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.http.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data := body.Data.(map[string]any)
	assert.Equal(t, "banrelay", data["service"])
	assert.Equal(t, "test", data["version"])
}

func TestReady(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.http.URL + "/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	h.upstream.state.Store(int32(relay.StateStreaming))
	resp, err = http.Get(h.http.URL + "/ready")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data readiness `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "streaming", body.Data.Upstream)
	assert.Equal(t, 0, body.Data.Subscribers)
}

// readiness mirrors the handler's body for decoding.
type readiness struct {
	Status      string `json:"status"`
	Upstream    string `json:"upstream"`
	Subscribers int    `json:"subscribers"`
}

func TestFaviconAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.http.URL + "/favicon.ico")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MetricsEnabled = false })

	resp, err := http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscriberLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "/")
	h.waitForSubscribers(t, 1)

	id := h.registry.Snapshot()[0].Subscriber.ID()
	f, ok := h.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, filter.ModeDiscordOnly, f.Mode)

	// An invalid update yields one error frame and leaves the filter alone.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"filter":"all","accounts":["not-an-address"]}`)))
	var errFrame map[string]response.Error
	readJSON(t, conn, &errFrame)
	assert.Equal(t, response.CodeInvalidFilter, errFrame["error"].Code)
	assert.Equal(t, "accounts[0]", errFrame["error"].Details)

	f, _ = h.registry.Lookup(id)
	assert.Equal(t, filter.ModeDiscordOnly, f.Mode)

	// A valid update replaces the whole filter.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"filter":"all","blocktypes":["send","receive"],"accounts":["`+validAccount+`"]}`)))
	require.Eventually(t, func() bool {
		f, _ := h.registry.Lookup(id)
		return f.Mode == filter.ModeAll
	}, 2*time.Second, 5*time.Millisecond)
	f, _ = h.registry.Lookup(id)
	assert.True(t, f.HasBlockType(banano.SubtypeReceive))
	assert.Contains(t, f.Accounts, validAccount)

	// Frames queued through the registry reach the peer.
	require.NoError(t, h.registry.Snapshot()[0].Subscriber.Send([]byte(`{"hash":"H1"}`)))
	var frame map[string]string
	readJSON(t, conn, &frame)
	assert.Equal(t, "H1", frame["hash"])

	// Closing the peer removes the subscriber.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	h.waitForSubscribers(t, 0)
}

func TestWSAlias(t *testing.T) {
	h := newHarness(t, nil)
	h.dial(t, "/ws")
	h.waitForSubscribers(t, 1)
}

func TestShutdownClosesSubscribers(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "/")
	h.waitForSubscribers(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	h.waitForSubscribers(t, 0)
}

func TestConnectRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ConnectRateLimit = 1 })
	h.dial(t, "/")

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.http.URL, "http")+"/", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Plain endpoints are not limited.
	for range 3 {
		r, err := http.Get(h.http.URL + "/health")
		require.NoError(t, err)
		_ = r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode)
	}
}

func TestConfigAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:8765", cfg.Addr())
	cfg.Host = "::1"
	assert.Equal(t, "[::1]:8765", cfg.Addr())
}
