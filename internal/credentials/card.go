// Package credentials resolves payment data for a user at the moment it is
// typed into a page.
package credentials

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Card is one stored payment method.
type Card struct {
	Number      string
	Holder      string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

// Field returns the value a payment field of the given kind expects.
// Combined expiry fields get "MM/YY".
func (c Card) Field(kind schemas.PaymentFieldKind) (string, error) {
	var v string
	switch kind {
	case schemas.PaymentCardNumber:
		v = c.Number
	case schemas.PaymentCardHolder:
		v = c.Holder
	case schemas.PaymentCVV:
		v = c.CVV
	case schemas.PaymentExpiryMonth:
		v = month(c.ExpiryMonth)
	case schemas.PaymentExpiryYear:
		v = strings.TrimSpace(c.ExpiryYear)
	case schemas.PaymentExpiry:
		if m, y := month(c.ExpiryMonth), shortYear(c.ExpiryYear); m != "" && y != "" {
			v = m + "/" + y
		}
	default:
		return "", fmt.Errorf("unknown payment field %q: %w", kind, schemas.ErrNotFound)
	}
	if v == "" {
		return "", fmt.Errorf("payment field %q: %w", kind, schemas.ErrNotFound)
	}
	return v, nil
}

func month(m string) string {
	m = strings.TrimSpace(m)
	if len(m) == 1 {
		return "0" + m
	}
	return m
}

func shortYear(y string) string {
	y = strings.TrimSpace(y)
	if len(y) > 2 {
		return y[len(y)-2:]
	}
	return y
}
