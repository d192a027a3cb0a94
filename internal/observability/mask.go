package observability

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// MaskCard renders a card number as ****1234. Anything with fewer than four
// digits is fully masked.
func MaskCard(number string) string {
	var digits []rune
	for _, r := range number {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "****" + string(digits[len(digits)-4:])
}

// Redacted is a zap field that records that a value was supplied without
// recording the value itself.
func Redacted(key string, value string) zap.Field {
	if value == "" {
		return zap.String(key, "")
	}
	return zap.String(key, "[REDACTED:"+strings.Repeat("*", min(len(value), 4))+"]")
}
