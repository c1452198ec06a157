package provider

import "strings"

// NormalizePhone canonicalizes a phone number to a single international
// form before it is handed to the SMS provider:
//
//   - whitespace and punctuation are stripped
//   - a leading national trunk digit (0) is replaced by the country code
//   - a number already carrying the country code without "+" receives one
//
// countryCode is the configured international prefix, e.g. "+49".
// Normalization is deterministic and idempotent: an already-normalized
// number passes through unchanged.
func NormalizePhone(raw, countryCode string) string {
	hasPlus := strings.HasPrefix(strings.TrimSpace(raw), "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if hasPlus {
		return "+" + digits
	}

	cc := strings.TrimPrefix(countryCode, "+")

	switch {
	case strings.HasPrefix(digits, cc):
		return "+" + digits
	case strings.HasPrefix(digits, "0"):
		return "+" + cc + digits[1:]
	default:
		return "+" + cc + digits
	}
}
