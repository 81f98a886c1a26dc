package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/errors"
	"github.com/agentstation/banrelay/pkg/logging"
)

// Marker keys held in the go-cache instance. Their expiry drives refresh
// decisions: a present "fresh" marker means the generation is within TTL,
// a present "backoff" marker means the last refresh failed recently.
const (
	freshKey   = "fresh"
	backoffKey = "backoff"
)

// generation is one complete, immutable mapping.
type generation[V any] struct {
	entries   map[string]V
	fetchedAt time.Time
	source    Source
}

// Cache is a read-through cache over a single Provider with stale fallback.
type Cache[V any] struct {
	provider Provider[V]
	store    Store[V]
	ttl      time.Duration
	backoff  time.Duration
	markers  *gocache.Cache
	current  atomic.Pointer[generation[V]]
	lastErr  atomic.Pointer[string]
	refresh  sync.Mutex
	logger   *zerolog.Logger
}

// CacheOption configures a Cache.
type CacheOption[V any] func(*Cache[V])

// WithStore persists each successful generation and seeds the cache on Load.
func WithStore[V any](store Store[V]) CacheOption[V] {
	return func(c *Cache[V]) {
		c.store = store
	}
}

// WithRetryBackoff sets how long to wait after a failed refresh before the
// next attempt. It defaults to the smaller of the TTL and 30s.
func WithRetryBackoff[V any](d time.Duration) CacheOption[V] {
	return func(c *Cache[V]) {
		c.backoff = d
	}
}

// WithLogger sets the cache logger.
func WithLogger[V any](logger *zerolog.Logger) CacheOption[V] {
	return func(c *Cache[V]) {
		c.logger = logger
	}
}

// NewCache creates a cache over provider. It starts empty and stale.
func NewCache[V any](provider Provider[V], ttl time.Duration, opts ...CacheOption[V]) *Cache[V] {
	c := &Cache[V]{
		provider: provider,
		ttl:      ttl,
		backoff:  min(ttl, constants.MaxRetryBackoff),
		markers:  gocache.New(ttl, 0),
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "enrich")
	c.current.Store(&generation[V]{entries: map[string]V{}, source: SourceEmpty})
	return c
}

// Name returns the provider name.
func (c *Cache[V]) Name() string {
	return c.provider.Name()
}

// Get returns the cached value for key from the current generation.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.current.Load().entries[key]
	return v, ok
}

// Mapping returns the current generation. Callers must not modify it.
func (c *Cache[V]) Mapping() map[string]V {
	return c.current.Load().entries
}

// Len returns the number of entries in the current generation.
func (c *Cache[V]) Len() int {
	return len(c.current.Load().entries)
}

// Fresh reports whether the current generation is within its TTL.
func (c *Cache[V]) Fresh() bool {
	_, ok := c.markers.Get(freshKey)
	return ok
}

// Invalidate marks the current generation stale and clears any back-off,
// so the next RefreshIfStale fetches.
func (c *Cache[V]) Invalidate() {
	c.markers.Delete(freshKey)
	c.markers.Delete(backoffKey)
}

// Stats reports the cache state.
func (c *Cache[V]) Stats() Stats {
	g := c.current.Load()
	s := Stats{
		Provider:  c.Name(),
		Entries:   len(g.entries),
		FetchedAt: g.fetchedAt,
		Source:    g.source,
		Fresh:     c.Fresh(),
	}
	if msg := c.lastErr.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

// Load seeds the cache from its store. A missing snapshot is not an error.
// Loaded data serves lookups but is treated as stale, so the next
// RefreshIfStale still fetches.
func (c *Cache[V]) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	snap, err := c.store.Load(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			c.logger.Debug().Str("provider", c.Name()).Msg("No persisted cache state")
			return nil
		}
		return errors.WrapProvider(c.Name(), "load", err)
	}

	entries := snap.Entries
	if entries == nil {
		entries = map[string]V{}
	}

	c.refresh.Lock()
	// A live generation fetched meanwhile wins over persisted data.
	if c.current.Load().source == SourceLive {
		c.refresh.Unlock()
		return nil
	}
	c.swap(&generation[V]{entries: entries, fetchedAt: snap.FetchedAt, source: SourceStale})
	c.refresh.Unlock()

	c.logger.Info().
		Str("provider", c.Name()).
		Int("entries", len(entries)).
		Dur("generation_age", time.Since(snap.FetchedAt)).
		Msg("Seeded cache from persisted state")
	return nil
}

// RefreshIfStale fetches a new generation when the TTL has elapsed and no
// back-off is pending. Failures are logged and recorded, never returned:
// the previous generation stays authoritative. It reports whether a new
// generation was installed.
func (c *Cache[V]) RefreshIfStale(ctx context.Context) bool {
	if c.Fresh() {
		return false
	}
	if _, waiting := c.markers.Get(backoffKey); waiting {
		return false
	}

	c.refresh.Lock()
	defer c.refresh.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if c.Fresh() {
		return false
	}

	if err := c.refreshLocked(ctx); err != nil {
		c.markers.Set(backoffKey, struct{}{}, c.backoff)
		c.logger.Warn().
			Err(err).
			Str("provider", c.Name()).
			Str("source", string(c.current.Load().source)).
			Int("entries", c.Len()).
			Dur("retry_in", c.backoff).
			Msg("Enrichment refresh failed, keeping previous generation")
		return false
	}
	return true
}

// Refresh fetches unconditionally and returns any error. It is used by the
// cache warm command; the relay uses RefreshIfStale.
func (c *Cache[V]) Refresh(ctx context.Context) error {
	c.refresh.Lock()
	defer c.refresh.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache[V]) refreshLocked(ctx context.Context) error {
	name := c.Name()

	entries, err := c.provider.Fetch(ctx)
	if err != nil {
		metrics.ProviderRefreshes.WithLabelValues(name, "error").Inc()
		wrapped := errors.WrapProvider(name, "fetch", err)
		msg := wrapped.Error()
		c.lastErr.Store(&msg)
		return wrapped
	}
	if entries == nil {
		entries = map[string]V{}
	}

	g := &generation[V]{entries: entries, fetchedAt: time.Now().UTC(), source: SourceLive}
	c.swap(g)
	c.markers.Set(freshKey, struct{}{}, c.ttl)
	c.markers.Delete(backoffKey)
	c.lastErr.Store(nil)
	metrics.ProviderRefreshes.WithLabelValues(name, "ok").Inc()

	c.logger.Debug().
		Str("provider", name).
		Int("entries", len(entries)).
		Msg("Enrichment cache refreshed")

	if c.store != nil {
		snap := Snapshot[V]{Provider: name, FetchedAt: g.fetchedAt, Entries: entries}
		if err := c.store.Save(ctx, snap); err != nil {
			// The in-memory generation is still valid; only restart resilience is lost.
			c.logger.Error().Err(err).Str("provider", name).Msg("Failed to persist cache state")
		}
	}
	return nil
}

func (c *Cache[V]) swap(g *generation[V]) {
	c.current.Store(g)
	metrics.CacheEntries.WithLabelValues(c.Name()).Set(float64(len(g.entries)))
}
