package app

import (
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/agentstation/banrelay/internal/appcontext"
	"github.com/agentstation/banrelay/internal/config"
	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/providers"
	"github.com/agentstation/banrelay/internal/transport"
)

// Persisted snapshot names, used as file names or redis key suffixes.
const (
	identitySnapshot = "identity"
	aliasSnapshot    = "alias"
)

// buildEnrichment wires providers, stores and caches from the configuration.
// The caller holds a.mu.
func (a *App) buildEnrichment() (*appcontext.Enrichment, error) {
	cfg := a.config
	userAgent := "banrelay/" + a.version

	identityStore, aliasStore := a.buildStores(cfg)

	identities := enrich.NewCache[enrich.Identity](
		providers.NewBananobot(cfg.IdentityURL, transport.New(providers.BananobotName,
			transport.WithRateLimit(cfg.ProviderRPS),
			transport.WithUserAgent(userAgent),
		)),
		cfg.IdentityTTL,
		enrich.WithStore[enrich.Identity](identityStore),
		enrich.WithLogger[enrich.Identity](a.logger),
	)

	aliases := enrich.NewCache[string](
		providers.NewSpyglass(cfg.AliasURL, transport.New(providers.SpyglassName,
			transport.WithRateLimit(cfg.ProviderRPS),
			transport.WithUserAgent(userAgent),
		)),
		cfg.AliasTTL,
		enrich.WithStore[string](aliasStore),
		enrich.WithLogger[string](a.logger),
	)

	a.logger.Debug().
		Str("store", cfg.CacheStore).
		Str("identity_url", cfg.IdentityURL).
		Str("alias_url", cfg.AliasURL).
		Msg("Enrichment caches created")

	return &appcontext.Enrichment{
		Enricher:   enrich.NewEnricher(identities, aliases),
		Identities: identityStore,
		Aliases:    aliasStore,
	}, nil
}

// buildStores returns the persistence backend selected by cache_store.
func (a *App) buildStores(cfg *config.Config) (enrich.Store[enrich.Identity], enrich.Store[string]) {
	if cfg.CacheStore == config.StoreRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return enrich.NewRedisStore[enrich.Identity](a.redis, cfg.RedisPrefix+identitySnapshot),
			enrich.NewRedisStore[string](a.redis, cfg.RedisPrefix+aliasSnapshot)
	}

	return enrich.NewFileStore[enrich.Identity](filepath.Join(cfg.CacheDir, identitySnapshot+".json")),
		enrich.NewFileStore[string](filepath.Join(cfg.CacheDir, aliasSnapshot+".json"))
}
