// Package phone reshapes free-form phone input into the 10-digit form some
// gateways require. The normalisation is intentionally lossy and best-effort:
// it exists only to satisfy a gateway's format constraint and must never be
// treated as validating a real, deliverable number.
package phone

import "strings"

// DefaultFiller left-pads numbers shorter than ten digits.
const DefaultFiller = '0'

// Normalizer applies gateway-specific shaping rules.
type Normalizer struct {
	// CountryCode is a dialing prefix stripped when present, e.g. "91".
	CountryCode string
	// AcceptLeading lists the digits accepted in the leading position,
	// e.g. "6789". Empty disables the check.
	AcceptLeading string
	// Placeholder is substituted when AcceptLeading rejects the result,
	// rather than submitting data known to be rejected.
	Placeholder string
	// Filler pads short numbers on the left. Zero value means DefaultFiller.
	Filler byte
}

// Normalize reduces raw to a 10-digit string: strips a leading zero, a
// recognised country-code prefix, a leading "+" and separator characters;
// keeps the last ten digits of anything longer; left-pads anything shorter.
func (n Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "0")
	if cc := strings.TrimSpace(n.CountryCode); cc != "" {
		s = strings.TrimPrefix(s, "+"+cc)
		s = strings.TrimPrefix(s, cc)
	}
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	s = b.String()

	if len(s) > 10 {
		s = s[len(s)-10:]
	}
	filler := n.Filler
	if filler == 0 {
		filler = DefaultFiller
	}
	for len(s) < 10 {
		s = string(filler) + s
	}
	if n.AcceptLeading != "" && !strings.ContainsRune(n.AcceptLeading, rune(s[0])) {
		return n.Placeholder
	}
	return s
}
