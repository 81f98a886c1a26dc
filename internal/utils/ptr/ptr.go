// Package ptr builds pointers to values for optional JSON fields.
package ptr

// To returns a pointer to a copy of v.
func To[T any](v T) *T {
	return &v
}

// NonEmpty returns a pointer to s, or nil when s is empty, so the field
// serializes as null.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
