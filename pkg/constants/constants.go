// Package constants provides defaults shared by the relay, its servers and
// its command line. Flags and configuration override all of them.
package constants

import "time"

// Endpoint defaults
const (
	// DefaultHost is the downstream bind host
	DefaultHost = "localhost"

	// DefaultPort is the downstream bind port
	DefaultPort = 8765

	// DefaultNodeURL is the upstream node websocket
	DefaultNodeURL = "ws://localhost:7074"

	// DefaultIdentityURL lists bananobot users (address, user_id, user_last_known_name)
	DefaultIdentityURL = "https://bananobotapi.banano.cc/users"

	// DefaultAliasURL lists spyglass known accounts (address, alias)
	DefaultAliasURL = "https://api.spyglass.eule.wtf/banano/v1/known/accounts"
)

// Timeout constants
const (
	// DefaultHTTPTimeout bounds a single provider request
	DefaultHTTPTimeout = 30 * time.Second

	// DialTimeout bounds the upstream websocket handshake
	DialTimeout = 10 * time.Second

	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout = 30 * time.Second

	// ReadTimeout and WriteTimeout apply to plain HTTP requests only;
	// hijacked websocket connections manage their own deadlines.
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Relay tuning
const (
	// ReconnectDelay is the first wait after losing the upstream connection
	ReconnectDelay = 1 * time.Second

	// MaxReconnectDelay caps the doubling reconnect wait
	MaxReconnectDelay = 30 * time.Second

	// UpstreamPingPeriod is how often the relay pings the node
	UpstreamPingPeriod = 20 * time.Second

	// UpstreamPongWait is how long the node may stay silent before the
	// connection is treated as lost. It must exceed UpstreamPingPeriod.
	UpstreamPongWait = 40 * time.Second

	// SubscriberQueueSize is the per-connection outbound frame buffer
	SubscriberQueueSize = 256

	// MirrorQueueSize is the mirror broker's publish buffer
	MirrorQueueSize = 1024
)

// Enrichment defaults
const (
	// IdentityTTL applies to bananobot users, which change slowly
	IdentityTTL = 30 * time.Minute

	// AliasTTL applies to spyglass aliases, which change quickly
	AliasTTL = 1 * time.Minute

	// RefreshInterval is how often the refresher checks both caches
	RefreshInterval = 15 * time.Second

	// MaxRetryBackoff caps the pause after a failed provider refresh
	MaxRetryBackoff = 30 * time.Second

	// ProviderRPS limits requests per second to each provider
	ProviderRPS = 1.0

	// DefaultCacheDir holds the persisted cache generations
	DefaultCacheDir = "./cache"
)

// File permission constants
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0o755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0o644
)

// Mirror defaults
const (
	// DefaultMirrorTopic is used for both the Kafka topic and the NATS subject
	DefaultMirrorTopic = "banano.confirmations"

	// DefaultRedisPrefix namespaces cache keys in redis
	DefaultRedisPrefix = "banrelay:cache:"
)
