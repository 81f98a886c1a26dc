// Package appcontext provides the shared application context interface
// used by all commands, so command packages depend on an interface rather
// than on the concrete App.
package appcontext

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/banrelay/internal/config"
	"github.com/agentstation/banrelay/internal/enrich"
)

// Interface defines what commands need from the application.
// The App struct from cmd/banrelay/app implements it.
type Interface interface {
	// Config returns the loaded configuration with flags applied.
	Config() *config.Config

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// Enrichment returns the enrichment caches and their stores, building
	// them on first use. Every call returns the same instance.
	Enrichment() (*Enrichment, error)

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}

// Enrichment bundles the enricher with the stores behind its caches.
type Enrichment struct {
	Enricher   *enrich.Enricher
	Identities enrich.Store[enrich.Identity]
	Aliases    enrich.Store[string]
}
