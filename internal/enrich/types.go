// Package enrich attaches externally sourced identity and alias data to the
// accounts in a relayed event.
//
// Each provider is fronted by a Cache that serves one complete generation of
// the provider's mapping at a time. Refreshes happen off the event path,
// replace the generation wholesale on success, persist it for restarts, and
// leave the previous generation in place on failure.
package enrich

import (
	"context"
	"time"
)

// Identity is a bananobot user linked to an account.
type Identity struct {
	Address string `json:"address"`
	UserID  string `json:"user_id"`
	Name    string `json:"user_last_known_name,omitempty"`
}

// Provider fetches the complete mapping for one enrichment source.
type Provider[V any] interface {
	Name() string
	Fetch(ctx context.Context) (map[string]V, error)
}

// Source tells where the current generation came from.
type Source string

// Generation sources.
const (
	// SourceEmpty means no fetch has succeeded and nothing was persisted.
	SourceEmpty Source = "empty"
	// SourceLive is a generation fetched by this process.
	SourceLive Source = "live"
	// SourceStale is a generation reloaded from durable storage.
	SourceStale Source = "stale-fallback"
)

// Snapshot is the persisted form of a cache generation.
type Snapshot[V any] struct {
	Provider  string       `json:"provider"`
	FetchedAt time.Time    `json:"fetched_at"`
	Entries   map[string]V `json:"entries"`
}

// Stats describes a cache for readiness checks and the CLI.
type Stats struct {
	Provider  string    `json:"provider"`
	Entries   int       `json:"entries"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	Source    Source    `json:"source"`
	Fresh     bool      `json:"fresh"`
	LastError string    `json:"last_error,omitempty"`
}
