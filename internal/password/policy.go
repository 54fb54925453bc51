package password

import "strings"

// Symbols accepted by the password policy.
const policySymbols = "@$!%*?&#"

const minLength = 8

// PolicyDescription is the user-facing statement of the policy, flashed
// when a candidate password is rejected.
const PolicyDescription = "Password must be at least 8 characters, contain an uppercase letter, a lowercase letter, a number, and a special character."

// MeetsPolicy reports whether the candidate satisfies the password
// policy: at least 8 characters with an upper-case letter, a lower-case
// letter, a digit, and a symbol from the fixed set, built only from
// those character classes.
func MeetsPolicy(candidate string) bool {
	if len(candidate) < minLength {
		return false
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, c := range candidate {
		switch {
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= '0' && c <= '9':
			hasDigit = true
		case strings.ContainsRune(policySymbols, c):
			hasSymbol = true
		default:
			// characters outside the allowed alphabet fail the policy
			return false
		}
	}

	return hasLower && hasUpper && hasDigit && hasSymbol
}
