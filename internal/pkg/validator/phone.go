package validator

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers entered without an international prefix.
const DefaultRegion = "GB"

var ErrInvalidPhone = errors.New("must be a valid phone number")

// NormalizePhone returns the E.164 form of a mobile number. An empty input
// stays empty.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// PhoneRule adapts NormalizePhone to ozzo-validation.
func PhoneRule(value interface{}) error {
	s, _ := value.(string)
	_, err := NormalizePhone(s)
	return err
}
