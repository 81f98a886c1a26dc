// Package filter decides which relayed events a subscriber receives.
// Matches and ShouldSkipEntirely are pure: the same inputs always give the
// same answer, and neither reads clocks, caches, or the registry.
package filter

import (
	"sort"

	"github.com/agentstation/banrelay/pkg/banano"
)

// Mode selects whether enrichment is required for delivery.
type Mode string

// Filter modes as they appear on the wire.
const (
	ModeAll         Mode = "all"
	ModeDiscordOnly Mode = "discord"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAll || m == ModeDiscordOnly
}

// Filter is a subscriber's predicate over events. A Filter is replaced
// wholesale, never mutated after it is stored in the registry.
type Filter struct {
	Mode       Mode
	BlockTypes map[banano.Subtype]struct{}
	// Accounts restricts events to those involving one of these addresses.
	// Empty means all accounts.
	Accounts map[string]struct{}
}

// Default returns the filter every new connection starts with:
// discord-only, sends only, all accounts.
func Default() Filter {
	return New(ModeDiscordOnly, []banano.Subtype{banano.SubtypeSend}, nil)
}

// New builds a Filter from slices, dropping duplicates.
func New(mode Mode, blockTypes []banano.Subtype, accounts []string) Filter {
	f := Filter{
		Mode:       mode,
		BlockTypes: make(map[banano.Subtype]struct{}, len(blockTypes)),
		Accounts:   make(map[string]struct{}, len(accounts)),
	}
	for _, bt := range blockTypes {
		f.BlockTypes[bt] = struct{}{}
	}
	for _, a := range accounts {
		f.Accounts[a] = struct{}{}
	}
	return f
}

// AllAccounts reports whether the filter accepts any account.
func (f Filter) AllAccounts() bool {
	return len(f.Accounts) == 0
}

// HasBlockType reports whether st is selected.
func (f Filter) HasBlockType(st banano.Subtype) bool {
	_, ok := f.BlockTypes[st]
	return ok
}

// BlockTypeList returns the selected subtypes in sorted order.
func (f Filter) BlockTypeList() []banano.Subtype {
	out := make([]banano.Subtype, 0, len(f.BlockTypes))
	for bt := range f.BlockTypes {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AccountList returns the selected accounts in sorted order.
func (f Filter) AccountList() []string {
	out := make([]string, 0, len(f.Accounts))
	for a := range f.Accounts {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Enrichment records whether the identity lookup resolved each side of an event.
type Enrichment struct {
	SourceIdentified       bool
	CounterpartyIdentified bool
}

// AnyIdentified reports whether either side carries a known external identity.
func (e Enrichment) AnyIdentified() bool {
	return e.SourceIdentified || e.CounterpartyIdentified
}

// Matches reports whether f accepts the event. Cheap checks run first.
func Matches(e *banano.Event, enriched Enrichment, f Filter) bool {
	if !f.AllAccounts() && !e.Involves(f.Accounts) {
		return false
	}
	if !f.HasBlockType(e.Subtype) {
		return false
	}
	if f.Mode == ModeDiscordOnly && !enriched.AnyIdentified() {
		return false
	}
	return true
}

// Aggregate is the union of a set of filters, used to reject events before
// enrichment.
type Aggregate struct {
	BlockTypes map[banano.Subtype]struct{}
	Accounts   map[string]struct{}
	// AllAccounts is set when any member filter accepts every account,
	// which disables the account check entirely.
	AllAccounts bool
}

// NewAggregate returns an empty aggregate that matches nothing.
func NewAggregate() Aggregate {
	return Aggregate{
		BlockTypes: make(map[banano.Subtype]struct{}),
		Accounts:   make(map[string]struct{}),
	}
}

// Add merges f into the aggregate.
func (a *Aggregate) Add(f Filter) {
	for bt := range f.BlockTypes {
		a.BlockTypes[bt] = struct{}{}
	}
	if f.AllAccounts() {
		a.AllAccounts = true
		return
	}
	for acct := range f.Accounts {
		a.Accounts[acct] = struct{}{}
	}
}

// ShouldSkipEntirely reports whether no filter folded into agg can accept e.
// It only discards events every member filter would reject.
func ShouldSkipEntirely(e *banano.Event, agg Aggregate) bool {
	if _, ok := agg.BlockTypes[e.Subtype]; !ok {
		return true
	}
	if !agg.AllAccounts && !e.Involves(agg.Accounts) {
		return true
	}
	return false
}
