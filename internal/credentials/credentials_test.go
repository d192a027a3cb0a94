package credentials

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

func TestCard_Field(t *testing.T) {
	card := Card{Number: "4111111111111111", Holder: "Ada Lovelace", ExpiryMonth: "3", ExpiryYear: "2029", CVV: "123"}

	tests := []struct {
		kind schemas.PaymentFieldKind
		want string
	}{
		{schemas.PaymentCardNumber, "4111111111111111"},
		{schemas.PaymentCardHolder, "Ada Lovelace"},
		{schemas.PaymentExpiryMonth, "03"},
		{schemas.PaymentExpiryYear, "2029"},
		{schemas.PaymentExpiry, "03/29"},
		{schemas.PaymentCVV, "123"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := card.Field(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing value", func(t *testing.T) {
		_, err := Card{Number: "4111111111111111"}.Field(schemas.PaymentCVV)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
	t.Run("expiry needs both parts", func(t *testing.T) {
		_, err := Card{ExpiryMonth: "12"}.Field(schemas.PaymentExpiry)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
	t.Run("unknown kind", func(t *testing.T) {
		_, err := card.Field("pin")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestStatic_GetPaymentField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.CredentialsConfig{
		Source: "static",
		Static: map[string]map[string]string{
			// viper lowercases keys on load.
			"buyer@example.com": {
				"card_number":  "4111111111111111",
				"card_holder":  "Test Buyer",
				"expiry_month": "12",
				"expiry_year":  "2030",
				"cvc":          "987",
			},
		},
	}
	p := NewStatic(cfg, zap.New(core))
	ctx := context.Background()

	v, err := p.GetPaymentField(ctx, "Buyer@Example.com", schemas.PaymentCardNumber)
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", v)

	v, err = p.GetPaymentField(ctx, "buyer@example.com", schemas.PaymentCVV)
	require.NoError(t, err)
	assert.Equal(t, "987", v)

	v, err = p.GetPaymentField(ctx, "buyer@example.com", schemas.PaymentExpiry)
	require.NoError(t, err)
	assert.Equal(t, "12/30", v)

	_, err = p.GetPaymentField(ctx, "stranger@example.com", schemas.PaymentCardNumber)
	assert.ErrorIs(t, err, schemas.ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.GetPaymentField(cancelled, "buyer@example.com", schemas.PaymentCardNumber)
	assert.ErrorIs(t, err, context.Canceled)

	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			assert.False(t, strings.Contains(f.String, "4111111111111111"), "card number logged in field %s", f.Key)
			assert.NotEqual(t, "987", f.String, "cvv logged in field %s", f.Key)
		}
	}
}

func TestProfile_Field(t *testing.T) {
	p := Profile{
		Email:        "ada@example.com",
		Phone:        "+44 20 7946 0000",
		FullName:     "Ada King Lovelace",
		AddressLine1: "12 St James's Square",
		City:         "London",
		Region:       "Greater London",
		PostalCode:   "SW1Y 4JH",
		Country:      "GB",
	}

	tests := []struct {
		kind schemas.ProfileFieldKind
		want string
	}{
		{schemas.ProfileEmail, "ada@example.com"},
		{schemas.ProfileFullName, "Ada King Lovelace"},
		{schemas.ProfileFirstName, "Ada"},
		{schemas.ProfileLastName, "King Lovelace"},
		{schemas.ProfileCity, "London"},
		{schemas.ProfilePostalCode, "SW1Y 4JH"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := p.Field(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("full name from parts", func(t *testing.T) {
		got, err := Profile{FirstName: "Grace", LastName: "Hopper"}.Field(schemas.ProfileFullName)
		require.NoError(t, err)
		assert.Equal(t, "Grace Hopper", got)
	})
	t.Run("missing value", func(t *testing.T) {
		_, err := p.Field(schemas.ProfileAddressLine2)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
	t.Run("unknown kind", func(t *testing.T) {
		_, err := p.Field("shoe_size")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestStatic_GetProfileField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewStatic(config.CredentialsConfig{
		Source: "static",
		Profiles: map[string]map[string]string{
			"buyer@example.com": {
				"email":   "buyer@example.com",
				"name":    "Test Buyer",
				"address": "1 Main St",
				"state":   "CA",
				"zip":     "94105",
			},
		},
	}, zap.New(core))
	ctx := context.Background()

	v, err := p.GetProfileField(ctx, "BUYER@example.com", schemas.ProfileLastName)
	require.NoError(t, err)
	assert.Equal(t, "Buyer", v)

	v, err = p.GetProfileField(ctx, "buyer@example.com", schemas.ProfileRegion)
	require.NoError(t, err)
	assert.Equal(t, "CA", v)

	v, err = p.GetProfileField(ctx, "buyer@example.com", schemas.ProfileAddressLine1)
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", v)

	_, err = p.GetProfileField(ctx, "stranger@example.com", schemas.ProfileEmail)
	assert.ErrorIs(t, err, schemas.ErrNotFound)

	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			assert.NotContains(t, f.String, "1 Main St", "address logged in field %s", f.Key)
		}
	}
}
