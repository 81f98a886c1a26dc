package enrich

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/banrelay/pkg/logging"
)

// Refreshable is a cache the Refresher keeps current.
type Refreshable interface {
	Name() string
	Load(ctx context.Context) error
	RefreshIfStale(ctx context.Context) bool
}

// Refresher periodically calls RefreshIfStale on its caches, off the relay's
// event path.
type Refresher struct {
	caches   []Refreshable
	interval time.Duration
	logger   *zerolog.Logger
}

// NewRefresher creates a refresher ticking every interval.
func NewRefresher(interval time.Duration, logger *zerolog.Logger, caches ...Refreshable) *Refresher {
	return &Refresher{
		caches:   caches,
		interval: interval,
		logger:   logging.Component(logger, "refresher"),
	}
}

// Run seeds every cache from its store, refreshes immediately, then on
// every tick until ctx is canceled. It always returns nil after
// cancellation; provider failures never stop it.
func (r *Refresher) Run(ctx context.Context) error {
	for _, c := range r.caches {
		if err := c.Load(ctx); err != nil {
			r.logger.Warn().Err(err).Str("provider", c.Name()).Msg("Could not seed cache from persisted state")
		}
	}

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("Refresher stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick refreshes all caches concurrently so a slow provider does not delay
// the others.
func (r *Refresher) tick(ctx context.Context) {
	var g errgroup.Group
	for _, c := range r.caches {
		g.Go(func() error {
			pctx := logging.WithProvider(logging.WithLogger(ctx, r.logger), c.Name())
			if c.RefreshIfStale(pctx) {
				logging.Ctx(pctx).Debug().Msg("Cache generation replaced")
			}
			return nil
		})
	}
	_ = g.Wait()
}
