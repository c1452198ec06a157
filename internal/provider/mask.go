package provider

import "strings"

// MaskRecipient shortens a phone number or email address for operational
// logs. Raw recipient identifiers must never appear in plaintext; only a
// short prefix and suffix survive.
func MaskRecipient(recipient string) string {
	if recipient == "" {
		return ""
	}

	if at := strings.Index(recipient, "@"); at >= 0 {
		local, domain := recipient[:at], recipient[at+1:]
		if len(local) <= 2 {
			return "**@" + domain
		}
		return local[:2] + "***@" + domain
	}

	if len(recipient) <= 6 {
		return "***"
	}
	return recipient[:4] + "***" + recipient[len(recipient)-2:]
}
