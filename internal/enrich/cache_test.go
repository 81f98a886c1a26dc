package enrich

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/banrelay/pkg/errors"
	"github.com/agentstation/banrelay/pkg/logging"
)

// fakeProvider returns the configured mapping or error and counts fetches.
type fakeProvider struct {
	name string

	mu      sync.Mutex
	entries map[string]string
	err     error
	calls   atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(_ context.Context) (map[string]string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]string, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out, nil
}

func (p *fakeProvider) set(entries map[string]string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = entries
	p.err = err
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	snap    *Snapshot[string]
	saveErr error
	saves   int
}

func (s *memStore) Load(_ context.Context) (Snapshot[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return Snapshot[string]{}, errors.NewNotFoundError("cache snapshot", "mem")
	}
	return *s.snap, nil
}

func (s *memStore) Save(_ context.Context, snap Snapshot[string]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = &snap
	return nil
}

func newTestCache(p Provider[string], ttl time.Duration, opts ...CacheOption[string]) *Cache[string] {
	opts = append([]CacheOption[string]{WithLogger[string](logging.NewNopLogger())}, opts...)
	return NewCache[string](p, ttl, opts...)
}

func TestCacheStartsEmptyAndStale(t *testing.T) {
	c := newTestCache(&fakeProvider{name: "alias"}, time.Minute)

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Fresh())
	_, ok := c.Get("ban_1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, "alias", stats.Provider)
	assert.Equal(t, SourceEmpty, stats.Source)
	assert.True(t, stats.FetchedAt.IsZero())
}

func TestCacheRefreshIfStale(t *testing.T) {
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "Kalium"}}
	c := newTestCache(p, time.Minute)

	require.True(t, c.RefreshIfStale(context.Background()))
	v, ok := c.Get("ban_1")
	require.True(t, ok)
	assert.Equal(t, "Kalium", v)
	assert.True(t, c.Fresh())
	assert.Equal(t, SourceLive, c.Stats().Source)

	// Within TTL nothing is fetched.
	assert.False(t, c.RefreshIfStale(context.Background()))
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestCacheRefreshAfterTTL(t *testing.T) {
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "one"}}
	c := newTestCache(p, 20*time.Millisecond)

	require.True(t, c.RefreshIfStale(context.Background()))
	p.set(map[string]string{"ban_2": "two"}, nil)

	time.Sleep(40 * time.Millisecond)
	require.True(t, c.RefreshIfStale(context.Background()))

	// Generations are replaced wholesale, never merged.
	_, ok := c.Get("ban_1")
	assert.False(t, ok)
	v, ok := c.Get("ban_2")
	assert.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestCacheKeepsPreviousGenerationOnFailure(t *testing.T) {
	p := &fakeProvider{name: "bananobot", entries: map[string]string{"ban_1": "42"}}
	c := newTestCache(p, 10*time.Millisecond, WithRetryBackoff[string](time.Hour))

	require.True(t, c.RefreshIfStale(context.Background()))
	before := c.Stats().FetchedAt

	p.set(nil, errors.NewAPIError("bananobot", 503, "down"))
	time.Sleep(20 * time.Millisecond)

	assert.False(t, c.RefreshIfStale(context.Background()))
	v, ok := c.Get("ban_1")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	stats := c.Stats()
	assert.Equal(t, before, stats.FetchedAt)
	assert.Contains(t, stats.LastError, "bananobot")
	assert.False(t, stats.Fresh)

	// Back-off suppresses retries until it expires.
	calls := p.calls.Load()
	assert.False(t, c.RefreshIfStale(context.Background()))
	assert.Equal(t, calls, p.calls.Load())
}

func TestCacheRetriesAfterBackoff(t *testing.T) {
	p := &fakeProvider{name: "alias"}
	p.set(nil, stderrors.New("connection refused"))
	c := newTestCache(p, time.Minute, WithRetryBackoff[string](10*time.Millisecond))

	assert.False(t, c.RefreshIfStale(context.Background()))
	p.set(map[string]string{"ban_1": "back"}, nil)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.RefreshIfStale(context.Background()))
	assert.Empty(t, c.Stats().LastError)
	assert.Equal(t, 1, c.Len())
}

func TestCacheRefreshReturnsError(t *testing.T) {
	p := &fakeProvider{name: "alias"}
	p.set(nil, stderrors.New("boom"))
	c := newTestCache(p, time.Minute)

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsProviderUnavailable(err))
}

func TestCacheInvalidate(t *testing.T) {
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "a"}}
	c := newTestCache(p, time.Hour)

	require.True(t, c.RefreshIfStale(context.Background()))
	c.Invalidate()
	assert.False(t, c.Fresh())
	assert.True(t, c.RefreshIfStale(context.Background()))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestCachePersistsAndReloads(t *testing.T) {
	store := &memStore{}
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "saved"}}
	c := newTestCache(p, time.Minute, WithStore[string](store))

	require.True(t, c.RefreshIfStale(context.Background()))
	require.Equal(t, 1, store.saves)

	// A new process with an unreachable provider falls back to the saved data.
	down := &fakeProvider{name: "alias"}
	down.set(nil, stderrors.New("unreachable"))
	restarted := newTestCache(down, time.Minute, WithStore[string](store))

	require.NoError(t, restarted.Load(context.Background()))
	v, ok := restarted.Get("ban_1")
	require.True(t, ok)
	assert.Equal(t, "saved", v)
	assert.Equal(t, SourceStale, restarted.Stats().Source)
	assert.False(t, restarted.Fresh())

	// Persisted data is stale, so a refresh is still attempted.
	assert.False(t, restarted.RefreshIfStale(context.Background()))
	assert.Equal(t, int32(1), down.calls.Load())
	v, ok = restarted.Get("ban_1")
	assert.True(t, ok)
	assert.Equal(t, "saved", v)
}

func TestCacheLoadMissingSnapshot(t *testing.T) {
	c := newTestCache(&fakeProvider{name: "alias"}, time.Minute, WithStore[string](&memStore{}))
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, SourceEmpty, c.Stats().Source)
}

func TestCacheLoadDoesNotOverrideLive(t *testing.T) {
	store := &memStore{snap: &Snapshot[string]{
		Provider: "alias",
		Entries:  map[string]string{"ban_old": "old"},
	}}
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_new": "new"}}
	c := newTestCache(p, time.Minute, WithStore[string](store))

	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.Load(context.Background()))

	_, ok := c.Get("ban_new")
	assert.True(t, ok)
	assert.Equal(t, SourceLive, c.Stats().Source)
}

// gatedProvider blocks Fetch until release is closed.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Name() string { return "alias" }

func (p *gatedProvider) Fetch(ctx context.Context) (map[string]string, error) {
	close(p.started)
	select {
	case <-p.release:
		return map[string]string{"ban_new": "new"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCacheLoadWaitsForRunningRefresh(t *testing.T) {
	store := &memStore{snap: &Snapshot[string]{
		Provider: "alias",
		Entries:  map[string]string{"ban_old": "old"},
	}}
	p := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	c := newTestCache(p, time.Minute, WithStore[string](store))

	refreshed := make(chan error, 1)
	go func() { refreshed <- c.Refresh(context.Background()) }()
	<-p.started

	loaded := make(chan error, 1)
	go func() { loaded <- c.Load(context.Background()) }()

	// The snapshot must not be installed while the fetch is in flight.
	assert.Never(t, func() bool { return c.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	select {
	case <-loaded:
		t.Fatal("Load finished while a refresh was running")
	default:
	}

	close(p.release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-loaded)

	_, ok := c.Get("ban_new")
	assert.True(t, ok)
	_, ok = c.Get("ban_old")
	assert.False(t, ok)
	assert.Equal(t, SourceLive, c.Stats().Source)
}

func TestCacheSaveFailureKeepsGeneration(t *testing.T) {
	store := &memStore{saveErr: stderrors.New("disk full")}
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "a"}}
	c := newTestCache(p, time.Minute, WithStore[string](store))

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Fresh())
}

func TestCacheConcurrentReadsDuringRefresh(t *testing.T) {
	p := &fakeProvider{name: "alias", entries: map[string]string{"ban_1": "a", "ban_2": "b"}}
	c := newTestCache(p, time.Nanosecond, WithRetryBackoff[string](time.Nanosecond))
	require.NoError(t, c.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			c.Invalidate()
			c.RefreshIfStale(ctx)
		}
	}()

	// Every read sees a complete generation.
	for range 1000 {
		m := c.Mapping()
		assert.Len(t, m, 2)
	}
	cancel()
	wg.Wait()
}
