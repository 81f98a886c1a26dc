package mirror

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/banrelay/pkg/logging"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	got    []Message
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, m := range s.got {
		out = append(out, m.Key)
	}
	return out
}

func TestBrokerFansOutInOrder(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	failing := &recordingSink{name: "failing", err: stderrors.New("down")}
	broker := NewBroker(logging.NewNopLogger(), 16, a, b, failing)
	assert.Equal(t, 3, broker.Sinks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()

	for _, key := range []string{"H1", "H2", "H3"} {
		broker.Publish(key, []byte(`{}`))
	}

	require.Eventually(t, func() bool { return len(a.keys()) == 3 && len(b.keys()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"H1", "H2", "H3"}, a.keys())
	assert.Equal(t, []string{"H1", "H2", "H3"}, b.keys())

	cancel()
	require.NoError(t, <-done)
	assert.True(t, a.closed)
	assert.True(t, failing.closed)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "a"}
	broker := NewBroker(logging.NewNopLogger(), 1, sink)

	// Run is not started, so the second frame finds the buffer full.
	broker.Publish("H1", nil)
	broker.Publish("H2", nil)
	assert.Len(t, broker.messages, 1)
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := &KafkaSink{writer: w, topic: "banano.confirmations"}
	assert.Equal(t, "kafka", sink.Name())

	require.NoError(t, sink.Publish(context.Background(), Message{Key: "H1", Value: []byte(`{"hash":"H1"}`)}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("H1"), w.msgs[0].Key)
	assert.JSONEq(t, `{"hash":"H1"}`, string(w.msgs[0].Value))

	w.err = stderrors.New("leader not available")
	err := sink.Publish(context.Background(), Message{Key: "H2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "banano.confirmations")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkConfiguresWriter(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "banano.confirmations")
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "banano.confirmations", w.Topic)
	assert.IsType(t, &kafka.LeastBytes{}, w.Balancer)
}

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSSink(t *testing.T) {
	url := startTestNATS(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("banano.confirmations", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	sink, err := NewNATSSink(url, "banano.confirmations")
	require.NoError(t, err)
	assert.Equal(t, "nats", sink.Name())

	require.NoError(t, sink.Publish(context.Background(), Message{Key: "H1", Value: []byte(`{"hash":"H1"}`)}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"hash":"H1"}`, string(msg.Data))
		assert.Equal(t, "H1", msg.Header.Get(nats.MsgIdHdr))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mirrored frame")
	}

	require.NoError(t, sink.Close())
}

func TestNATSSinkConnectFailure(t *testing.T) {
	_, err := NewNATSSink("nats://127.0.0.1:1", "x", nats.Timeout(200*time.Millisecond))
	require.Error(t, err)
}
