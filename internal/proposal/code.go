// Package proposal holds proposal identifiers.
package proposal

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidCode is returned for strings that are not proposal codes.
var ErrInvalidCode = errors.New("invalid proposal code")

// A code is a year 2000-2099, a semester 1 or 2, an upper-case run that starts
// and ends with a letter (underscores allowed inside) and three digits.
var codePattern = regexp.MustCompile(`^20\d{2}-[12]-[A-Z](?:[A-Z_]*[A-Z])?-\d{3}$`)

// Code is a validated proposal code such as 2021-1-SCI-017.
type Code string

// Validate returns s unchanged as a Code, or ErrInvalidCode.
func Validate(s string) (Code, error) {
	if !codePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	return Code(s), nil
}

func (c Code) String() string { return string(c) }

// UnmarshalText validates textual codes from JSON, YAML and query strings.
func (c *Code) UnmarshalText(text []byte) error {
	v, err := Validate(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
