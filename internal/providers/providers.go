// Package providers implements the enrichment data sources the relay
// caches: bananobot's Discord identity list and spyglass's known-account
// aliases.
package providers

import (
	"strings"

	"github.com/agentstation/banrelay/internal/transport"
)

// Provider names used in logs, metrics and persisted snapshots.
const (
	BananobotName = "bananobot"
	SpyglassName  = "spyglass"
)

// isRemote reports whether source is an HTTP(S) URL rather than a file path.
func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// clientOrDefault returns c, or a rate-limited client for name when c is nil.
func clientOrDefault(c *transport.Client, name string) *transport.Client {
	if c != nil {
		return c
	}
	return transport.New(name)
}
