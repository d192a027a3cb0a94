package flow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Defaults for page marker detection. All text matching is case-insensitive.
var (
	DefaultConfirmationMarkers = []string{
		"order confirmed",
		"thank you for your order",
		"thanks for your order",
		"order has been placed",
		"order has been received",
		"order is complete",
	}
	DefaultConfirmationURLs = []string{
		"/order-confirmation",
		"/thank-you",
		"/checkout/success",
		"/order/complete",
	}
	DefaultPaymentErrorMarkers = []string{
		"payment declined",
		"card declined",
		"payment failed",
		"transaction declined",
	}
	// DefaultOrderNumberPattern requires a digit in the reference so that
	// prose such as "order number will be emailed" does not match.
	DefaultOrderNumberPattern = `(?i)(?:order|confirmation)\s*(?:number|no\.?|#)\s*[:#]?\s*([A-Z0-9-]*[0-9][A-Z0-9-]*)`
)

const minOrderRefLen = 4

// Markers recognizes completed purchases and payment errors on a page.
type Markers struct {
	confirmation []string
	urls         []string
	paymentError []string
	orderNumber  *regexp.Regexp
}

// PageSignal is what Markers found on a snapshot.
type PageSignal struct {
	Confirmed      bool
	OrderReference string
	PaymentError   string
}

// NewMarkers builds Markers from the flow configuration, falling back to the
// defaults for any list left empty.
func NewMarkers(cfg config.FlowConfig) (*Markers, error) {
	pattern := cfg.OrderNumberPattern
	if pattern == "" {
		pattern = DefaultOrderNumberPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid flow.order_number_pattern: %w", err)
	}
	return &Markers{
		confirmation: lowered(cfg.ConfirmationMarkers, DefaultConfirmationMarkers),
		urls:         lowered(cfg.ConfirmationURLs, DefaultConfirmationURLs),
		paymentError: lowered(cfg.PaymentErrorMarkers, DefaultPaymentErrorMarkers),
		orderNumber:  re,
	}, nil
}

// Inspect checks the snapshot's visible text, title and URL.
func (m *Markers) Inspect(snap *schemas.PageSnapshot) PageSignal {
	var sig PageSignal
	if snap == nil {
		return sig
	}
	text := strings.ToLower(snap.Title + " " + snap.Text)

	if match := m.orderNumber.FindStringSubmatch(snap.Text); len(match) > 1 && len(match[1]) >= minOrderRefLen {
		sig.OrderReference = match[1]
		sig.Confirmed = true
	}
	for _, marker := range m.confirmation {
		if strings.Contains(text, marker) {
			sig.Confirmed = true
			break
		}
	}
	if !sig.Confirmed {
		path := strings.ToLower(snap.URL)
		if u, err := url.Parse(snap.URL); err == nil {
			path = strings.ToLower(u.Path)
		}
		for _, p := range m.urls {
			if strings.Contains(path, p) {
				sig.Confirmed = true
				break
			}
		}
	}
	for _, marker := range m.paymentError {
		if strings.Contains(text, marker) {
			sig.PaymentError = marker
			break
		}
	}
	return sig
}

func lowered(values, defaults []string) []string {
	if len(values) == 0 {
		values = defaults
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
