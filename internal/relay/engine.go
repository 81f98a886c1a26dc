// Package relay consumes the upstream confirmation feed and fans enriched
// frames out to matching subscribers.
package relay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/pkg/banano"
	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/errors"
	"github.com/agentstation/banrelay/pkg/logging"
)

// Mirror receives every built frame, keyed by block hash. Publish must not
// block.
type Mirror interface {
	Publish(key string, frame []byte)
}

// Engine owns the upstream connection and the delivery pipeline.
type Engine struct {
	source   Source
	registry *registry.Registry
	enricher *enrich.Enricher
	mirror   Mirror
	logger   *zerolog.Logger

	minDelay time.Duration
	maxDelay time.Duration

	state atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithReconnectDelay sets the initial and maximum delay between upstream
// connection attempts.
func WithReconnectDelay(initial, maximum time.Duration) Option {
	return func(e *Engine) {
		e.minDelay = initial
		e.maxDelay = maximum
	}
}

// WithMirror publishes every built frame to m.
func WithMirror(m Mirror) Option {
	return func(e *Engine) {
		e.mirror = m
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine reading from source and delivering to the
// subscribers in reg.
func NewEngine(source Source, reg *registry.Registry, enricher *enrich.Enricher, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		registry: reg,
		enricher: enricher,
		logger:   logging.Default(),
		minDelay: constants.ReconnectDelay,
		maxDelay: constants.MaxReconnectDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.enricher == nil {
		e.enricher = enrich.NewEnricher(nil, nil)
	}
	if e.maxDelay < e.minDelay {
		e.maxDelay = e.minDelay
	}
	e.logger = logging.Component(e.logger, "relay")
	metrics.UpstreamState.Set(float64(StateDisconnected))
	return e
}

// State returns the current upstream state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev == s {
		return
	}
	metrics.UpstreamState.Set(float64(s))
	e.logger.Info().
		Str("endpoint", e.source.Endpoint()).
		Stringer("from", prev).
		Stringer("to", s).
		Msg("Upstream state changed")
}

// Run connects, subscribes and relays until ctx is canceled, reconnecting
// after every failure. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	delay := e.minDelay
	for {
		streamed, err := e.session(ctx)
		e.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		metrics.UpstreamReconnects.Inc()
		if streamed {
			delay = e.minDelay
		}
		e.logger.Warn().
			Err(err).
			Str("endpoint", e.source.Endpoint()).
			Dur("retry_in", delay).
			Msg("Upstream connection lost")

		if !sleep(ctx, delay) {
			return nil
		}
		delay = min(delay*2, e.maxDelay)
	}
}

// session runs one connection. streamed reports whether any frame arrived.
func (e *Engine) session(ctx context.Context) (streamed bool, err error) {
	e.setState(StateConnecting)

	stream, err := e.source.Connect(ctx)
	if err != nil {
		return false, err
	}
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer func() {
		stop()
		_ = stream.Close()
	}()

	if err := stream.Subscribe(ctx); err != nil {
		return false, err
	}
	e.setState(StateSubscribed)

	for {
		data, err := stream.Read(ctx)
		if err != nil {
			return streamed, err
		}
		if !streamed {
			streamed = true
			e.setState(StateStreaming)
		}
		e.handle(data)
	}
}

// handle runs one upstream frame through the pipeline.
func (e *Engine) handle(data []byte) {
	metrics.EventsReceived.Inc()

	entries, agg := e.registry.View()
	if len(entries) == 0 {
		metrics.EventsSkipped.WithLabelValues(metrics.SkipNoSubscribers).Inc()
		return
	}

	ev, err := banano.ParseMessage(data)
	if err != nil {
		if stderrors.Is(err, banano.ErrNotConfirmation) {
			metrics.EventsSkipped.WithLabelValues(metrics.SkipNotConfirmation).Inc()
			return
		}
		metrics.EventsSkipped.WithLabelValues(metrics.SkipMalformed).Inc()
		e.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Skipping malformed upstream event")
		return
	}

	if filter.ShouldSkipEntirely(ev, agg) {
		metrics.EventsSkipped.WithLabelValues(metrics.SkipPrecheck).Inc()
		return
	}

	frame, enriched := BuildFrame(ev, e.enricher)
	payload, err := json.Marshal(frame)
	if err != nil {
		metrics.EventsSkipped.WithLabelValues(metrics.SkipMalformed).Inc()
		e.logger.Error().Err(err).Str("hash", ev.Hash).Msg("Failed to encode frame")
		return
	}

	delivered := 0
	for _, entry := range entries {
		if !filter.Matches(ev, enriched, entry.Filter) {
			continue
		}
		if err := entry.Subscriber.Send(payload); err != nil {
			e.drop(entry.Subscriber, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		metrics.EventsSkipped.WithLabelValues(metrics.SkipNoMatch).Inc()
	} else {
		metrics.FramesDelivered.Add(float64(delivered))
	}

	if e.mirror != nil {
		e.mirror.Publish(ev.Hash, payload)
	}

	e.logger.Debug().
		Str("hash", ev.Hash).
		Str("subtype", ev.Subtype.String()).
		Int("delivered", delivered).
		Msg("Relayed event")
}

// drop disconnects a subscriber whose queue could not take a frame.
func (e *Engine) drop(sub registry.Subscriber, err error) {
	reason := "closed"
	if stderrors.Is(err, errors.ErrQueueFull) {
		reason = "queue_full"
	}
	metrics.DeliveriesDropped.WithLabelValues(reason).Inc()

	if e.registry.Remove(sub) {
		e.logger.Warn().
			Err(err).
			Str("subscriber_id", sub.ID()).
			Str("reason", reason).
			Msg("Disconnecting subscriber")
	}
	_ = sub.Close()
}

// sleep waits for d or until ctx is canceled, reporting whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
