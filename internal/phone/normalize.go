// Package phone turns free-form phone input into E.164 digits.
package phone

import (
	"errors"
	"strings"
)

// DefaultCountryCode is prepended to national numbers.
const DefaultCountryCode = "55"

// maxDigits is the E.164 length limit.
const maxDigits = 15

// ErrInvalidPhone is returned when no usable number remains after cleanup.
var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize strips formatting from raw and returns the number as E.164
// digits without the leading '+'.
//
// Numbers of up to 11 digits that do not already start with
// defaultCountryCode are treated as national and get it prepended. Input
// written in international form ("+..." or "00...") is never prefixed.
func Normalize(raw, defaultCountryCode string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	international := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "00")

	digits := onlyDigits(trimmed)
	if digits == "" {
		return "", ErrInvalidPhone
	}

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "", ErrInvalidPhone
	}

	cc := onlyDigits(defaultCountryCode)
	if !international && cc != "" && !strings.HasPrefix(digits, cc) && len(digits) <= 11 {
		digits = cc + digits
	}

	if len(digits) > maxDigits {
		return "", ErrInvalidPhone
	}

	return digits, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
