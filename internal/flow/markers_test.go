package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

func page(url, title, text string) *schemas.PageSnapshot {
	return schemas.NewPageSnapshot(url, title, text, nil, time.Now())
}

func TestMarkers_Inspect(t *testing.T) {
	m, err := NewMarkers(config.FlowConfig{})
	require.NoError(t, err)

	tests := []struct {
		name string
		snap *schemas.PageSnapshot
		want PageSignal
	}{
		{"confirmation text", page("https://shop.example/done", "", "Order Confirmed! We will email you."), PageSignal{Confirmed: true}},
		{"confirmation in title", page("https://shop.example/x", "Thank you for your order", ""), PageSignal{Confirmed: true}},
		{"order number with digits", page("https://shop.example/x", "", "Your order number: A1B2-9981"), PageSignal{Confirmed: true, OrderReference: "A1B2-9981"}},
		{"order hash", page("https://shop.example/x", "", "Order #100234 is on its way"), PageSignal{Confirmed: true, OrderReference: "100234"}},
		{"order number prose", page("https://shop.example/checkout", "", "Your order number will be emailed after payment"), PageSignal{}},
		{"short reference", page("https://shop.example/x", "", "order no. 12"), PageSignal{}},
		{"confirmation url", page("https://shop.example/checkout/success?id=1", "", ""), PageSignal{Confirmed: true}},
		{"url pattern only in query", page("https://shop.example/cart?next=/thank-you", "", ""), PageSignal{}},
		{"payment error", page("https://shop.example/checkout", "", "Sorry, your card declined."), PageSignal{PaymentError: "card declined"}},
		{"plain checkout", page("https://shop.example/checkout", "Checkout", "Enter your shipping address"), PageSignal{}},
		{"nil snapshot", nil, PageSignal{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Inspect(tt.snap))
		})
	}
}

func TestNewMarkers_Custom(t *testing.T) {
	m, err := NewMarkers(config.FlowConfig{
		ConfirmationMarkers: []string{"  Bestellung Bestätigt "},
		ConfirmationURLs:    []string{"/danke"},
		PaymentErrorMarkers: []string{"Zahlung abgelehnt"},
		OrderNumberPattern:  `Bestellnummer:\s*(\d+)`,
	})
	require.NoError(t, err)

	assert.True(t, m.Inspect(page("https://shop.example/x", "", "Bestellung bestätigt")).Confirmed)
	assert.True(t, m.Inspect(page("https://shop.example/danke", "", "")).Confirmed)
	assert.Equal(t, "55501", m.Inspect(page("https://shop.example/x", "", "Bestellnummer: 55501")).OrderReference)
	assert.Equal(t, "zahlung abgelehnt", m.Inspect(page("https://shop.example/x", "", "ZAHLUNG ABGELEHNT")).PaymentError)
	assert.False(t, m.Inspect(page("https://shop.example/x", "", "Order confirmed")).Confirmed, "custom markers replace the defaults")

	_, err = NewMarkers(config.FlowConfig{OrderNumberPattern: "("})
	assert.ErrorContains(t, err, "order_number_pattern")
}
