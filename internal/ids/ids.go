package ids

import (
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier used for request ids
// and submission correlation.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s looks like an identifier produced by New.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
