package banano

import (
	"fmt"

	"github.com/agentstation/banrelay/pkg/errors"
)

// Subtype is the state block subtype reported with a confirmation.
type Subtype string

// Subtypes a subscriber can filter on.
const (
	SubtypeSend    Subtype = "send"
	SubtypeReceive Subtype = "receive"
	SubtypeChange  Subtype = "change"
)

// AllSubtypes lists every filterable subtype.
func AllSubtypes() []Subtype {
	return []Subtype{SubtypeSend, SubtypeReceive, SubtypeChange}
}

// Valid reports whether s is one of the filterable subtypes.
func (s Subtype) Valid() bool {
	switch s {
	case SubtypeSend, SubtypeReceive, SubtypeChange:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s Subtype) String() string {
	return string(s)
}

// ParseSubtype converts a wire string to a Subtype.
func ParseSubtype(field, s string) (Subtype, error) {
	st := Subtype(s)
	if !st.Valid() {
		return "", errors.NewValidationError(field, s,
			fmt.Sprintf("must be one of %q, %q, %q", SubtypeSend, SubtypeReceive, SubtypeChange))
	}
	return st, nil
}
