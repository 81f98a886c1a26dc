// Package registry tracks live downstream subscribers and their filters.
//
// Mutations serialize on a mutex and publish a new immutable view; readers
// (the relay, once per upstream event) load the current view without
// locking, so a slow subscriber write never holds up connect, disconnect or
// reconfigure traffic, and a reader never sees a half-applied change.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/pkg/errors"
)

// Subscriber is a downstream connection the relay can deliver frames to.
type Subscriber interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Send enqueues a serialized frame without blocking.
	Send(frame []byte) error
	// Close terminates the connection. Safe to call more than once.
	Close() error
}

// Entry pairs a subscriber with the filter it had when a snapshot was taken.
type Entry struct {
	Subscriber Subscriber
	Filter     filter.Filter
}

// view is one published, immutable generation of the registry.
type view struct {
	entries   []Entry
	aggregate filter.Aggregate
}

// Registry is a concurrency-safe map of subscriber to filter.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Entry
	current atomic.Pointer[view]
	logger  *zerolog.Logger
	onSize  func(int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithSizeObserver registers fn to be called with the subscriber count after
// every membership change.
func WithSizeObserver(fn func(int)) Option {
	return func(r *Registry) {
		r.onSize = fn
	}
}

// New creates an empty registry.
func New(logger *zerolog.Logger, opts ...Option) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&view{aggregate: filter.NewAggregate()})
	return r
}

// Add registers sub with the default filter and returns that filter.
// Re-adding a registered subscriber resets it to the default filter.
func (r *Registry) Add(sub Subscriber) filter.Filter {
	f := filter.Default()

	r.mu.Lock()
	id := sub.ID()
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = Entry{Subscriber: sub, Filter: f}
	size := r.publishLocked()
	r.mu.Unlock()

	r.logger.Debug().
		Str("subscriber_id", id).
		Int("total_subscribers", size).
		Msg("Subscriber registered")
	r.observe(size)

	return f
}

// Update atomically replaces the filter of a registered subscriber.
func (r *Registry) Update(sub Subscriber, f filter.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := sub.ID()
	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, errors.ErrNotRegistered)
	}
	entry.Filter = f
	r.entries[id] = entry
	r.publishLocked()
	return nil
}

// Remove unregisters sub. Removing an unknown or already removed subscriber
// is a no-op. It reports whether this call removed the entry.
func (r *Registry) Remove(sub Subscriber) bool {
	r.mu.Lock()
	id := sub.ID()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	size := r.publishLocked()
	r.mu.Unlock()

	r.logger.Debug().
		Str("subscriber_id", id).
		Int("total_subscribers", size).
		Msg("Subscriber removed")
	r.observe(size)

	return true
}

// Lookup returns the stored filter for the subscriber with the given ID.
func (r *Registry) Lookup(id string) (filter.Filter, bool) {
	for _, e := range r.current.Load().entries {
		if e.Subscriber.ID() == id {
			return e.Filter, true
		}
	}
	return filter.Filter{}, false
}

// AggregateBlockTypesAndAccounts returns the union of all registered filters,
// taken from one consistent generation.
func (r *Registry) AggregateBlockTypesAndAccounts() filter.Aggregate {
	return r.current.Load().aggregate
}

// Snapshot returns the registered subscribers in registration order. The
// returned slice is shared and must not be modified.
func (r *Registry) Snapshot() []Entry {
	return r.current.Load().entries
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	return len(r.current.Load().entries)
}

// View returns the snapshot and aggregate of a single generation.
func (r *Registry) View() ([]Entry, filter.Aggregate) {
	v := r.current.Load()
	return v.entries, v.aggregate
}

// publishLocked builds and stores a new view. Callers hold r.mu.
func (r *Registry) publishLocked() int {
	v := &view{
		entries:   make([]Entry, 0, len(r.order)),
		aggregate: filter.NewAggregate(),
	}
	for _, id := range r.order {
		e := r.entries[id]
		v.entries = append(v.entries, e)
		v.aggregate.Add(e.Filter)
	}
	r.current.Store(v)
	return len(v.entries)
}

func (r *Registry) observe(size int) {
	if r.onSize != nil {
		r.onSize(size)
	}
}
