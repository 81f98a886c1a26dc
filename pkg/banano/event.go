package banano

import (
	"encoding/json"
	stderrors "errors"

	"github.com/agentstation/banrelay/pkg/errors"
)

// TopicConfirmation is the node websocket topic carrying confirmed blocks.
const TopicConfirmation = "confirmation"

// ErrNotConfirmation is returned by ParseMessage for frames on other topics
// (subscription acks, keepalives). They are ignored, not malformed.
var ErrNotConfirmation = stderrors.New("not a confirmation message")

// Message is one frame from the node websocket.
type Message struct {
	Topic   string          `json:"topic"`
	Time    json.RawMessage `json:"time"`
	Message *Confirmation   `json:"message"`
}

// Confirmation is the payload of a confirmation message.
type Confirmation struct {
	Account          string          `json:"account"`
	Amount           string          `json:"amount"`
	AmountDecimal    string          `json:"amount_decimal"`
	Hash             string          `json:"hash"`
	ConfirmationType string          `json:"confirmation_type"`
	Block            json.RawMessage `json:"block"`
}

// blockFields are the block members the relay inspects. Everything else in
// the block is passed through untouched.
type blockFields struct {
	Subtype       string `json:"subtype"`
	LinkAsAccount string `json:"link_as_account"`
}

// Event is an immutable confirmed block ready for filtering and enrichment.
type Event struct {
	Subtype       Subtype
	Account       string
	LinkAccount   string
	Amount        string
	AmountDecimal string
	Time          json.RawMessage
	Hash          string
	Block         json.RawMessage
}

// Counterparty returns the destination account of a send, or "" for other
// subtypes where link_as_account does not name a receiving account.
func (e *Event) Counterparty() string {
	if e.Subtype == SubtypeSend {
		return e.LinkAccount
	}
	return ""
}

// Involves reports whether the source or counterparty is in accounts.
func (e *Event) Involves(accounts map[string]struct{}) bool {
	if _, ok := accounts[e.Account]; ok {
		return true
	}
	if cp := e.Counterparty(); cp != "" {
		if _, ok := accounts[cp]; ok {
			return true
		}
	}
	return false
}

// ParseMessage decodes a node websocket frame into an Event.
// Frames on other topics yield ErrNotConfirmation; confirmation frames
// missing required fields yield a MalformedEventError. Amount, amount_decimal
// and time are optional and relayed as empty values when absent.
func ParseMessage(data []byte) (*Event, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.NewMalformedEventError("", "invalid JSON", err)
	}
	if msg.Topic != TopicConfirmation {
		return nil, ErrNotConfirmation
	}

	c := msg.Message
	if c == nil {
		return nil, errors.NewMalformedEventError("message", "missing", nil)
	}
	if c.Account == "" {
		return nil, errors.NewMalformedEventError("message.account", "missing", nil)
	}
	if c.Hash == "" {
		return nil, errors.NewMalformedEventError("message.hash", "missing", nil)
	}
	if len(c.Block) == 0 || string(c.Block) == "null" {
		return nil, errors.NewMalformedEventError("message.block", "missing", nil)
	}

	var block blockFields
	if err := json.Unmarshal(c.Block, &block); err != nil {
		return nil, errors.NewMalformedEventError("message.block", "not an object", err)
	}
	if block.Subtype == "" {
		return nil, errors.NewMalformedEventError("message.block.subtype", "missing", nil)
	}

	st := Subtype(block.Subtype)
	if st == SubtypeSend && block.LinkAsAccount == "" {
		return nil, errors.NewMalformedEventError("message.block.link_as_account", "missing on send", nil)
	}

	return &Event{
		Subtype:       st,
		Account:       c.Account,
		LinkAccount:   block.LinkAsAccount,
		Amount:        c.Amount,
		AmountDecimal: c.AmountDecimal,
		Time:          msg.Time,
		Hash:          c.Hash,
		Block:         c.Block,
	}, nil
}
