// Package banano holds the Banano node vocabulary the relay depends on:
// account addresses, block subtypes and the confirmation messages pushed by
// a node's websocket.
package banano

import (
	"regexp"

	"github.com/agentstation/banrelay/pkg/errors"
)

// AddressPrefix starts every Banano account address.
const AddressPrefix = "ban_"

// addressPattern is the node's address syntax: prefix, a 1 or 3, and 59
// characters of the nano base32 alphabet (no 0, 2, l, v).
var addressPattern = regexp.MustCompile(`^ban_[13][13456789abcdefghijkmnopqrstuwxyz]{59}$`)

// ValidAddress reports whether s is a syntactically valid Banano address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ValidateAddress returns a ValidationError naming field when s is not a valid address.
func ValidateAddress(field, s string) error {
	if !ValidAddress(s) {
		return errors.NewValidationError(field, s, "not a valid banano address")
	}
	return nil
}
