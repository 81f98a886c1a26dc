// Package mirror republishes every relayed frame to message brokers so
// other services can consume the enriched confirmation stream without
// holding a websocket.
package mirror

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/logging"
)

// publishTimeout bounds one frame's delivery to one sink.
const publishTimeout = 10 * time.Second

// Message is one frame to mirror, keyed by block hash.
type Message struct {
	Key   string
	Value []byte
}

// Sink is a broker destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Broker buffers frames from the relay and fans them out to every sink.
// Publish never blocks the relay; frames are dropped when the buffer is full.
type Broker struct {
	sinks    []Sink
	messages chan Message
	logger   *zerolog.Logger
}

// NewBroker creates a broker over sinks with a buffer of queueSize frames.
func NewBroker(logger *zerolog.Logger, queueSize int, sinks ...Sink) *Broker {
	if queueSize <= 0 {
		queueSize = constants.MirrorQueueSize
	}
	return &Broker{
		sinks:    sinks,
		messages: make(chan Message, queueSize),
		logger:   logging.Component(logger, "mirror"),
	}
}

// Sinks returns the number of configured sinks.
func (b *Broker) Sinks() int {
	return len(b.sinks)
}

// Publish implements relay.Mirror.
func (b *Broker) Publish(key string, frame []byte) {
	select {
	case b.messages <- Message{Key: key, Value: frame}:
	default:
		metrics.MirrorDropped.Inc()
		b.logger.Warn().Str("hash", key).Msg("Mirror queue full, frame dropped")
	}
}

// Run delivers frames until ctx is canceled, then closes every sink.
// Frames still buffered at cancellation are discarded.
func (b *Broker) Run(ctx context.Context) error {
	defer b.closeSinks()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Mirror broker shut down")
			return nil
		case msg := <-b.messages:
			b.deliver(ctx, msg)
		}
	}
}

// deliver sends msg to all sinks concurrently and waits, so each sink sees
// frames in relay order.
func (b *Broker) deliver(ctx context.Context, msg Message) {
	var g errgroup.Group
	for _, sink := range b.sinks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()

			if err := sink.Publish(sctx, msg); err != nil {
				metrics.MirrorPublished.WithLabelValues(sink.Name(), "error").Inc()
				b.logger.Warn().
					Err(err).
					Str("sink", sink.Name()).
					Str("hash", msg.Key).
					Msg("Failed to mirror frame")
				return nil
			}
			metrics.MirrorPublished.WithLabelValues(sink.Name(), "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Broker) closeSinks() {
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			b.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Failed to close mirror sink")
		}
	}
}
