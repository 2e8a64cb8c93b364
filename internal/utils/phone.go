package utils

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhoneNumber — приводим номер к E.164 ("+77011234567").
// defaultRegion — регион для номеров без кода страны (напр. "KZ").
func NormalizePhoneNumber(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number: %s", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// IsTestPhoneNumber — зарезервированный диапазон +1-555-01xx:
// на такие номера реальную доставку не делаем никогда.
func IsTestPhoneNumber(e164 string) bool {
	return strings.HasPrefix(e164, "+1555")
}
