// Package app provides the application context and dependency management
// for the banrelay CLI. Configuration, logging and the shared enrichment
// caches are built here and handed to commands through appcontext.Interface.
package app

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/appcontext"
	"github.com/agentstation/banrelay/internal/config"
	"github.com/agentstation/banrelay/pkg/errors"
)

// App represents the banrelay application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	// Configuration
	config *config.Config

	// Logger
	logger *zerolog.Logger

	// Enrichment (lazy-initialized, singleton)
	mu         sync.RWMutex
	enrichment *appcontext.Enrichment
	redis      *redis.Client
}

// New creates a new App instance with the given version information.
// Configuration comes from the environment and the default config file
// locations; --config is applied later when the command line is parsed.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	app.config = cfg

	logger := NewLogger(cfg)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Enrichment returns the enrichment caches, creating them lazily.
// This is thread-safe and ensures only one set of caches exists.
func (a *App) Enrichment() (*appcontext.Enrichment, error) {
	a.mu.RLock()
	if a.enrichment != nil {
		e := a.enrichment
		a.mu.RUnlock()
		return e, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.enrichment != nil {
		return a.enrichment, nil
	}

	if err := a.config.Validate(); err != nil {
		return nil, err
	}
	e, err := a.buildEnrichment()
	if err != nil {
		return nil, err
	}
	a.enrichment = e
	return e, nil
}

// Shutdown releases resources held by the application.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.redis != nil {
		err := a.redis.Close()
		a.redis = nil
		if err != nil {
			return errors.WrapIO("close", a.config.RedisAddr, err)
		}
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithEnrichment sets prebuilt enrichment caches (useful for testing).
func WithEnrichment(e *appcontext.Enrichment) Option {
	return func(a *App) error {
		a.enrichment = e
		return nil
	}
}

// Ensure App implements appcontext.Interface at compile time.
var _ appcontext.Interface = (*App)(nil)
