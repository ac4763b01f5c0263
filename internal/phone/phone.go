// Package phone normalizes user-supplied phone numbers into the canonical
// +[country][subscriber] form used as the identity of a recipient everywhere
// in the pipeline (send lists, message logs, blacklist).
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid is returned for numbers that cannot be normalized.
var ErrInvalid = errors.New("invalid phone number")

var (
	nonDigits = regexp.MustCompile(`\D`)
	canonical = regexp.MustCompile(`^\+[1-9]\d{9,14}$`)
)

// Normalizer applies a country-aware heuristic. It holds no mutable state.
type Normalizer struct {
	countryCode    string
	mobilePrefixes []string
}

// NewNormalizer creates a normalizer for the given default country code
// (digits only, e.g. "57") and the leading digits that mark a domestic mobile
// number.
func NewNormalizer(countryCode string, mobilePrefixes []string) *Normalizer {
	return &Normalizer{
		countryCode:    strings.TrimPrefix(countryCode, "+"),
		mobilePrefixes: mobilePrefixes,
	}
}

// Normalize strips formatting and returns the canonical number.
//
//   - country code followed by a 10-digit national number: "+" prefixed
//   - 10 digits starting with a mobile prefix: default country code prefixed
//   - anything longer than 10 digits: assumed already international
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	digits = strings.TrimPrefix(digits, "00")

	var out string
	switch {
	case digits == "":
		return "", ErrInvalid
	case strings.HasPrefix(digits, n.countryCode) && len(digits) == len(n.countryCode)+10:
		out = "+" + digits
	case len(digits) == 10 && n.isMobile(digits):
		out = "+" + n.countryCode + digits
	case len(digits) > 10:
		out = "+" + digits
	default:
		return "", ErrInvalid
	}

	if !canonical.MatchString(out) {
		return "", ErrInvalid
	}
	return out, nil
}

// Valid reports whether s is already in canonical form.
func Valid(s string) bool {
	return canonical.MatchString(s)
}

func (n *Normalizer) isMobile(digits string) bool {
	for _, p := range n.mobilePrefixes {
		if strings.HasPrefix(digits, p) {
			return true
		}
	}
	return false
}
