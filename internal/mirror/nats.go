package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes frames to a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url with unlimited reconnects. Extra options are
// appended to the defaults.
func NewNATSSink(url, subject string, opts ...nats.Option) (*NATSSink, error) {
	defaults := []nats.Option{
		nats.Name("banrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string {
	return "nats"
}

// Publish implements Sink. The block hash travels in the Nats-Msg-Id
// header so JetStream consumers can deduplicate.
func (s *NATSSink) Publish(_ context.Context, msg Message) error {
	m := nats.NewMsg(s.subject)
	m.Data = msg.Value
	if msg.Key != "" {
		m.Header.Set(nats.MsgIdHdr, msg.Key)
	}
	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.subject, err)
	}
	return nil
}

// Close implements Sink. Buffered messages are flushed first.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
