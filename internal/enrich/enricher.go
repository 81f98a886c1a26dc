package enrich

import (
	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/internal/utils/ptr"
	"github.com/agentstation/banrelay/pkg/banano"
)

// Side is one account of an event with whatever enrichment resolved.
// Unresolved fields encode as JSON null.
type Side struct {
	Account     string  `json:"account"`
	DiscordID   *string `json:"discord_id"`
	DiscordName *string `json:"discord_name"`
	Alias       *string `json:"alias"`
}

// Identified reports whether the identity cache knew the account.
func (s Side) Identified() bool {
	return s.DiscordID != nil
}

// Enricher combines the identity and alias caches.
type Enricher struct {
	identities *Cache[Identity]
	aliases    *Cache[string]
}

// NewEnricher creates an enricher over the two caches. Either may be nil,
// in which case its fields are never resolved.
func NewEnricher(identities *Cache[Identity], aliases *Cache[string]) *Enricher {
	return &Enricher{identities: identities, aliases: aliases}
}

// Identities returns the identity cache.
func (e *Enricher) Identities() *Cache[Identity] {
	return e.identities
}

// Aliases returns the alias cache.
func (e *Enricher) Aliases() *Cache[string] {
	return e.aliases
}

// Side resolves account against both caches.
func (e *Enricher) Side(account string) Side {
	side := Side{Account: account}
	if account == "" {
		return side
	}
	if e.identities != nil {
		if id, ok := e.identities.Get(account); ok {
			side.DiscordID = ptr.To(id.UserID)
			side.DiscordName = ptr.NonEmpty(id.Name)
		}
	}
	if e.aliases != nil {
		if alias, ok := e.aliases.Get(account); ok {
			side.Alias = ptr.To(alias)
		}
	}
	return side
}

// Sides resolves both sides of ev. The link side keeps the raw
// link_as_account, but only a send's counterparty is looked up.
func (e *Enricher) Sides(ev *banano.Event) (source, link Side, enriched filter.Enrichment) {
	source = e.Side(ev.Account)
	if cp := ev.Counterparty(); cp != "" {
		link = e.Side(cp)
	} else {
		link = Side{Account: ev.LinkAccount}
	}
	enriched = filter.Enrichment{
		SourceIdentified:       source.Identified(),
		CounterpartyIdentified: link.Identified(),
	}
	return source, link, enriched
}

// Stats reports both caches.
func (e *Enricher) Stats() []Stats {
	var out []Stats
	if e.identities != nil {
		out = append(out, e.identities.Stats())
	}
	if e.aliases != nil {
		out = append(out, e.aliases.Stats())
	}
	return out
}
