package contact

import (
	"strings"
	"unicode"
)

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone reduces a phone number to international digits.
// A national number with a trunk 0 gets defaultCountryCode in its place, and
// a stray trunk 0 after the country code is dropped.
func NormalizePhone(phone, defaultCountryCode string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, phone)

	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}

	if defaultCountryCode == "" {
		return digits
	}

	// 05XXXXXXXX -> 9725XXXXXXXX
	if strings.HasPrefix(digits, "0") && len(digits) >= 9 {
		digits = defaultCountryCode + digits[1:]
	}

	// 9720... -> 972...
	if strings.HasPrefix(digits, defaultCountryCode+"0") {
		digits = defaultCountryCode + digits[len(defaultCountryCode)+1:]
	}

	return digits
}
