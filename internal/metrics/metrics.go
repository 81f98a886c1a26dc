// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "banrelay"

// Skip reasons for EventsSkipped.
const (
	SkipNoSubscribers   = "no_subscribers"
	SkipPrecheck        = "precheck"
	SkipMalformed       = "malformed"
	SkipNotConfirmation = "not_confirmation"
	SkipNoMatch         = "no_match"
)

var (
	// EventsReceived counts frames read from the node websocket.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Frames read from the upstream node websocket.",
	})

	// EventsSkipped counts events dropped before delivery, by reason.
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_skipped_total",
		Help:      "Upstream events dropped before delivery.",
	}, []string{"reason"})

	// FramesDelivered counts frames enqueued to subscribers.
	FramesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_delivered_total",
		Help:      "Enriched frames enqueued to downstream subscribers.",
	})

	// DeliveriesDropped counts failed enqueues that disconnected a subscriber.
	DeliveriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_dropped_total",
		Help:      "Deliveries that failed and disconnected the subscriber.",
	}, []string{"reason"})

	// FilterUpdates counts inbound filter updates by result.
	FilterUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filter_updates_total",
		Help:      "Subscriber filter-update messages by result.",
	}, []string{"result"})

	// Subscribers is the number of registered downstream connections.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Registered downstream subscribers.",
	})

	// UpstreamState is the relay state machine position (0 disconnected .. 3 streaming).
	UpstreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_state",
		Help:      "Upstream connection state: 0 disconnected, 1 connecting, 2 subscribed, 3 streaming.",
	})

	// UpstreamReconnects counts upstream connection losses.
	UpstreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_reconnects_total",
		Help:      "Times the upstream connection was lost and retried.",
	})

	// ProviderRefreshes counts enrichment refresh attempts by provider and result.
	ProviderRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_refreshes_total",
		Help:      "Enrichment provider refresh attempts.",
	}, []string{"provider", "result"})

	// CacheEntries is the size of the current cache generation per provider.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries in the current enrichment cache generation.",
	}, []string{"provider"})

	// MirrorPublished counts frames written to each mirror sink.
	MirrorPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_published_total",
		Help:      "Frames published to mirror sinks.",
	}, []string{"sink", "result"})

	// MirrorDropped counts frames dropped because the mirror queue was full.
	MirrorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_dropped_total",
		Help:      "Frames dropped because the mirror queue was full.",
	})
)
