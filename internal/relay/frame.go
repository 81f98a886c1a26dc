package relay

import (
	"encoding/json"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/pkg/banano"
)

// Frame is the enriched payload broadcast to subscribers.
type Frame struct {
	BlockAccount  enrich.Side     `json:"block_account"`
	LinkAsAccount enrich.Side     `json:"link_as_account"`
	Amount        string          `json:"amount"`
	AmountDecimal string          `json:"amount_decimal"`
	Time          json.RawMessage `json:"time"`
	Hash          string          `json:"hash"`
	Block         json.RawMessage `json:"block"`
}

// BuildFrame enriches ev. The returned Enrichment feeds discord-only
// filter evaluation.
func BuildFrame(ev *banano.Event, enricher *enrich.Enricher) (Frame, filter.Enrichment) {
	source, link, enriched := enricher.Sides(ev)
	return Frame{
		BlockAccount:  source,
		LinkAsAccount: link,
		Amount:        ev.Amount,
		AmountDecimal: ev.AmountDecimal,
		Time:          ev.Time,
		Hash:          ev.Hash,
		Block:         ev.Block,
	}, enriched
}
