package app

import (
	"strings"

	"github.com/atendezap/atendezap/internal/core_domain"
)

// NormalizedPhone is the result of phone normalization: local digits plus
// the country code they belong to.
type NormalizedPhone struct {
	Local       string
	CountryCode string
}

// Full returns the international digit string.
func (n NormalizedPhone) Full() string { return n.CountryCode + n.Local }

const (
	minLocalDigits = 8
	maxLocalDigits = 13
	// Brazilian mobile numbers are 11 local digits (area code + 9 + 8
	// subscriber digits); the subscriber slot must start with 9.
	mobileLocalLen    = 11
	mobilePrefixDigit = '9'
)

// NormalizePhone strips formatting, splits off the assumed country code and
// validates the remaining local digits. It is idempotent: feeding its own
// output (recombined) back yields the same result.
func NormalizePhone(raw, assumedCountry string) (NormalizedPhone, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return NormalizedPhone{}, &core_domain.ValidationError{Field: "phone", Reason: "no digits present"}
	}

	local := digits
	if strings.HasPrefix(digits, assumedCountry) && len(digits) >= len(assumedCountry)+minLocalDigits {
		local = digits[len(assumedCountry):]
	}

	if len(local) < minLocalDigits || len(local) > maxLocalDigits {
		return NormalizedPhone{}, &core_domain.ValidationError{Field: "phone", Reason: "local number must have 8 to 13 digits"}
	}
	if allIdenticalDigits(local) {
		return NormalizedPhone{}, &core_domain.ValidationError{Field: "phone", Reason: "all digits are identical"}
	}
	if len(local) == mobileLocalLen && local[2] != mobilePrefixDigit {
		return NormalizedPhone{}, &core_domain.ValidationError{Field: "phone", Reason: "mobile-length number missing mobile prefix digit"}
	}

	return NormalizedPhone{Local: local, CountryCode: assumedCountry}, nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allIdenticalDigits(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// PlaceholderName derives a display name for a lead whose real name is not
// yet known, e.g. "Contato 4599...0000".
func PlaceholderName(phone NormalizedPhone) string {
	local := phone.Local
	if len(local) > 8 {
		return "Contato " + local[:4] + "..." + local[len(local)-4:]
	}
	return "Contato " + local
}

// FormatPhone renders a phone for display in templates, e.g.
// "+55 (45) 99999-0000" for an 11-digit Brazilian mobile.
func FormatPhone(countryCode, local string) string {
	if len(local) == mobileLocalLen {
		return "+" + countryCode + " (" + local[:2] + ") " + local[2:7] + "-" + local[7:]
	}
	if len(local) == 10 {
		return "+" + countryCode + " (" + local[:2] + ") " + local[2:6] + "-" + local[6:]
	}
	return "+" + countryCode + " " + local
}
