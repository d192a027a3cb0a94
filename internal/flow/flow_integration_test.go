package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/analyzer"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/executor"
	"github.com/xkilldash9x/cartpilot/internal/mocks"
	"github.com/xkilldash9x/cartpilot/internal/validator"
)

const (
	cardSentinel = "4111111111111111"
	cvvSentinel  = "987"
)

func checkoutForm() *schemas.PageSnapshot {
	return schemas.NewPageSnapshot("https://shop.example.com/checkout", "Checkout", "Contact and payment", []schemas.Element{
		{Role: schemas.RoleInput, Selector: "#email", Label: "Email", Enabled: true, InputType: "email", FieldKind: schemas.FieldContact},
		{Role: schemas.RoleInput, Selector: "#cc-number", Label: "Card number", Enabled: true, FieldKind: schemas.FieldPayment, PaymentField: schemas.PaymentCardNumber, Form: "#pay"},
		{Role: schemas.RoleInput, Selector: "#cc-csc", Label: "Security code", Enabled: true, FieldKind: schemas.FieldPayment, PaymentField: schemas.PaymentCVV, Form: "#pay"},
		{Role: schemas.RoleButton, Selector: "#place-order", Label: "Place order", Enabled: true, InputType: "submit", Form: "#pay"},
	}, time.Now())
}

func orderConfirmed() *schemas.PageSnapshot {
	return schemas.NewPageSnapshot("https://shop.example.com/order-confirmation", "Thanks", "Thank you for your order! Order #A1234", nil, time.Now())
}

// TestFlow_EndToEndPurchase runs the real analyzer, validator and executor
// over a scripted storefront.
func TestFlow_EndToEndPurchase(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	llm := new(mocks.MockLLMClient)
	for _, resp := range []string{
		`{"action_kind":"click","target_element_ref":"#add-to-cart","confidence":0.95,"rationale":"add the product"}`,
		"```json\n{\"action_kind\":\"fill_field\",\"target_element_ref\":\"#email\",\"fill_values\":{\"#email\":\"buyer@example.com\"},\"confidence\":0.9}\n```",
		`Filling payment next. {"action_kind":"fill_field","target_element_ref":"#cc-number","confidence":0.9}`,
		`{"action_kind":"click","target_element_ref":"#place-order","confidence":0.92}`,
	} {
		llm.On("Generate", mock.Anything, mock.Anything).Return(resp, nil).Once()
	}

	creds := new(mocks.MockCredentialProvider)
	creds.On("GetPaymentField", mock.Anything, "buyer-1", schemas.PaymentCardNumber).Return(cardSentinel, nil)
	creds.On("GetPaymentField", mock.Anything, "buyer-1", schemas.PaymentCVV).Return(cvvSentinel, nil)

	session := mocks.NewMockSession()
	session.On("Navigate", mock.Anything, productURL).Return(nil).Once()
	session.On("Fetch", mock.Anything).Return(productPage(), nil).Once()
	session.On("Fetch", mock.Anything).Return(checkoutForm(), nil).Times(3)
	session.On("Fetch", mock.Anything).Return(orderConfirmed(), nil).Once()
	session.On("Click", mock.Anything, mock.Anything).Return(nil)
	session.On("Fill", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	an, err := analyzer.New(llm, analyzer.Options{}, logger)
	require.NoError(t, err)
	markers, err := NewMarkers(config.FlowConfig{})
	require.NoError(t, err)
	ctrl, err := New(an, validator.New(validator.Options{}, logger), executor.New(creds, nil, logger), markers,
		Options{RetryBackoff: time.Millisecond}, logger)
	require.NoError(t, err)

	at := NewAttempt("attempt-e2e", "buyer-1", productURL, schemas.PurchaseOptions{Quantity: 1})
	rec := ctrl.Run(context.Background(), at, session)

	require.Equal(t, schemas.StateCompleted, rec.State, "ledger: %+v", rec.Ledger)
	assert.Equal(t, schemas.ReasonOrderConfirmed, rec.TerminalReason)
	assert.Equal(t, "A1234", rec.OrderReference)
	require.Len(t, rec.Ledger, 4)

	// Payment data reached the page.
	v, ok := session.FilledValue("#cc-number")
	require.True(t, ok)
	assert.Equal(t, cardSentinel, v)
	v, _ = session.FilledValue("#cc-csc")
	assert.Equal(t, cvvSentinel, v)
	v, _ = session.FilledValue("#email")
	assert.Equal(t, "buyer@example.com", v)

	// Step indices increase by one and exactly one terminal action succeeded.
	terminal := 0
	for i, e := range rec.Ledger {
		assert.Equal(t, i, e.StepIndex)
		require.NotNil(t, e.Action)
		assert.Equal(t, schemas.OutcomeSuccess, e.Outcome)
		if e.Action.Terminal {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, "#place-order", rec.Ledger[3].Action.Target)

	// Every executed target existed in the page it was validated against.
	pages := []*schemas.PageSnapshot{productPage(), checkoutForm(), checkoutForm(), checkoutForm()}
	for i, e := range rec.Ledger {
		assert.Equal(t, pages[i].Fingerprint, e.Fingerprint)
		_, found := pages[i].Element(e.Action.Target)
		assert.True(t, found, "step %d target %s", i, e.Action.Target)
	}

	// Credentials stay out of the record and the logs.
	encoded, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), cardSentinel)
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, cardSentinel)
		fields, err := json.Marshal(entry.ContextMap())
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(fields), cardSentinel), "log %q leaks the card number", entry.Message)
	}

	llm.AssertExpectations(t)
	session.AssertExpectations(t)
	creds.AssertExpectations(t)
}
