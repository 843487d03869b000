// Package phone canonicalizes raw phone numbers into the form the
// messaging provider expects on the wire.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalid is returned for inputs that cannot become a phone number.
var ErrInvalid = errors.New("invalid phone number")

// Number is a canonicalized phone number.
type Number struct {
	digits string
}

// Normalize cleans a raw phone string. Every character that is not a
// digit is dropped; a single leading + is tolerated. Inputs without any
// digits are invalid.
func Normalize(raw string) (Number, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Number{}, ErrInvalid
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return Number{}, ErrInvalid
	}

	return Number{digits: b.String()}, nil
}

// E164 returns the number with a leading +.
func (n Number) E164() string {
	if n.digits == "" {
		return ""
	}
	return "+" + n.digits
}

// Wire returns the digits-only form the provider API requires
// (the + is stripped before transmission).
func (n Number) Wire() string {
	return n.digits
}

// IsZero reports whether the number is empty.
func (n Number) IsZero() bool {
	return n.digits == ""
}
