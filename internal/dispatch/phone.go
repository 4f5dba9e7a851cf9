package dispatch

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when a phone value contains no digits.
var ErrInvalidPhone = errors.New("phone number has no digits")

// NormalizePhone turns a raw phone value into +<country><number> form.
//
//	10 digits                      -> +<cc><digits>
//	len(cc)+10 digits starting cc  -> +<digits>
//	11 digits starting cc          -> +<cc><digits after cc>
//	anything else                  -> +<digits>
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", ErrInvalidPhone
	}

	cc := strings.TrimLeft(countryCode, "+")
	switch {
	case cc == "":
		return "+" + digits, nil
	case len(digits) == 10:
		return "+" + cc + digits, nil
	case len(digits) == len(cc)+10 && strings.HasPrefix(digits, cc):
		return "+" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, cc):
		return "+" + cc + digits[len(cc):], nil
	default:
		return "+" + digits, nil
	}
}
