package filter

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/agentstation/banrelay/pkg/banano"
	"github.com/agentstation/banrelay/pkg/errors"
)

// updateRequest is the inbound filter-update message. Pointers distinguish
// absent (or null) keys, which take defaults, from empty values.
type updateRequest struct {
	Filter     *string   `json:"filter"`
	BlockTypes *[]string `json:"blocktypes"`
	Accounts   *[]string `json:"accounts"`
}

// ParseUpdate validates a filter-update message and returns the complete
// replacement filter. Missing keys take defaults: filter "discord",
// blocktypes ["send"], accounts []. Any invalid element rejects the whole
// update with a *errors.ValidationError.
func ParseUpdate(data []byte) (Filter, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Filter{}, errors.NewValidationError("", nil, "request must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var req updateRequest
	if err := dec.Decode(&req); err != nil {
		return Filter{}, decodeError(err)
	}
	if dec.More() {
		return Filter{}, errors.NewValidationError("", nil, "unexpected data after JSON object")
	}

	mode := ModeDiscordOnly
	if req.Filter != nil {
		mode = Mode(*req.Filter)
		if !mode.Valid() {
			return Filter{}, errors.NewValidationError("filter", *req.Filter,
				fmt.Sprintf("must be %q or %q", ModeAll, ModeDiscordOnly))
		}
	}

	blockTypes := []banano.Subtype{banano.SubtypeSend}
	if req.BlockTypes != nil {
		blockTypes = make([]banano.Subtype, 0, len(*req.BlockTypes))
		for i, raw := range *req.BlockTypes {
			st, err := banano.ParseSubtype(fmt.Sprintf("blocktypes[%d]", i), raw)
			if err != nil {
				return Filter{}, err
			}
			blockTypes = append(blockTypes, st)
		}
	}

	var accounts []string
	if req.Accounts != nil {
		accounts = make([]string, 0, len(*req.Accounts))
		for i, acct := range *req.Accounts {
			if err := banano.ValidateAddress(fmt.Sprintf("accounts[%d]", i), acct); err != nil {
				return Filter{}, err
			}
			accounts = append(accounts, acct)
		}
	}

	return New(mode, blockTypes, accounts), nil
}

// decodeError maps encoding/json failures onto validation errors.
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			return errors.NewValidationError("", nil, "request must be a JSON object")
		}
		return errors.NewValidationError(field, typeErr.Value,
			fmt.Sprintf("expected %s, got %s", expectedKind(field), typeErr.Value))
	}

	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return errors.NewValidationError(field, nil, "unknown key")
	}
	return errors.NewValidationError("", nil, "invalid JSON: "+msg)
}

func expectedKind(field string) string {
	switch {
	case field == "filter":
		return "string"
	case strings.HasPrefix(field, "blocktypes"), strings.HasPrefix(field, "accounts"):
		return "array of strings"
	}
	return "a different type"
}
