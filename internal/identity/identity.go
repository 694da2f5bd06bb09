// Package identity handles account address parsing and validation for
// policy owners, liquidity providers and privileged ledger callers.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// addressRegex matches: 0x{40 hex digits}
// Example: 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
var addressRegex = regexp.MustCompile(`^0x([0-9a-fA-F]{40})$`)

var (
	ErrInvalidAddress = errors.New("identity: invalid address format")
	ErrNullAddress    = errors.New("identity: null address")
)

// Address is a normalized (lower-case, 0x-prefixed) account identity.
type Address string

// Null is the zero identity. It can never own a policy or hold the admin role.
const Null Address = "0x0000000000000000000000000000000000000000"

// Parse validates and normalizes an address string.
// Format: 0x{40 hex digits}, case-insensitive.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !addressRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 0x followed by 40 hex digits)",
			ErrInvalidAddress, s)
	}
	return Address("0x" + strings.ToLower(s[2:])), nil
}

// ParseNonNull is Parse that additionally rejects the null identity.
func ParseNonNull(s string) (Address, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	if a.IsNull() {
		return "", ErrNullAddress
	}
	return a, nil
}

// MustParse is Parse for constants and tests. It panics on malformed input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsNull reports whether a is the zero identity or empty.
func (a Address) IsNull() bool {
	return a == "" || a == Null
}

func (a Address) String() string { return string(a) }
