package booking

import "strings"

// NormalizePhone reduces a phone number to its digits, turning the +82 country prefix into
// the domestic leading zero. It returns "" when the result is not a plausible Korean number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "82") && len(digits) >= 11 {
		digits = "0" + strings.TrimPrefix(strings.TrimPrefix(digits, "82"), "0")
	}
	if len(digits) < 9 || len(digits) > 11 || digits[0] != '0' {
		return ""
	}
	return digits
}
