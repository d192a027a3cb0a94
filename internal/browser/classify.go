package browser

import (
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Keyword tables for form field classification, checked in order.
var fieldKeywords = []struct {
	kind     schemas.FieldKind
	keywords []string
}{
	{schemas.FieldBilling, []string{"billing", "bill to", "bill address", "billing address", "bill information"}},
	{schemas.FieldShipping, []string{"shipping", "ship to", "delivery", "shipping address", "ship address", "delivery address", "recipient"}},
	{schemas.FieldPayment, []string{"payment", "card", "credit", "cvv", "cvc", "expir", "expiry", "expiration", "card number", "cardholder", "security code", "payment method"}},
	{schemas.FieldContact, []string{"email", "e-mail", "phone", "contact", "mobile", "telephone"}},
}

var autocompletePayment = map[string]schemas.PaymentFieldKind{
	"cc-number":    schemas.PaymentCardNumber,
	"cc-name":      schemas.PaymentCardHolder,
	"cc-exp-month": schemas.PaymentExpiryMonth,
	"cc-exp-year":  schemas.PaymentExpiryYear,
	"cc-exp":       schemas.PaymentExpiry,
	"cc-csc":       schemas.PaymentCVV,
}

var autocompleteProfile = map[string]schemas.ProfileFieldKind{
	"email":          schemas.ProfileEmail,
	"tel":            schemas.ProfilePhone,
	"tel-national":   schemas.ProfilePhone,
	"name":           schemas.ProfileFullName,
	"given-name":     schemas.ProfileFirstName,
	"family-name":    schemas.ProfileLastName,
	"street-address": schemas.ProfileAddressLine1,
	"address-line1":  schemas.ProfileAddressLine1,
	"address-line2":  schemas.ProfileAddressLine2,
	"address-level2": schemas.ProfileCity,
	"address-level1": schemas.ProfileRegion,
	"postal-code":    schemas.ProfilePostalCode,
	"country":        schemas.ProfileCountry,
	"country-name":   schemas.ProfileCountry,
}

// Inputs of these types never take profile data.
var nonProfileInputTypes = map[string]bool{
	"checkbox": true, "radio": true, "hidden": true, "submit": true,
	"button": true, "password": true, "image": true, "reset": true, "file": true,
}

// fieldHints is the markup a form field is classified from.
type fieldHints struct {
	ID           string
	Name         string
	Class        string
	Placeholder  string
	Label        string
	Autocomplete string
	AriaLabel    string
	InputType    string
}

func (h fieldHints) text() string {
	s := strings.Join([]string{h.ID, h.Name, h.Class, h.Placeholder, h.Label, h.AriaLabel, h.Autocomplete}, " ")
	s = strings.ToLower(s)
	return strings.NewReplacer("_", " ", "-", " ").Replace(s)
}

// classifyField assigns a FieldKind and, for payment fields, the piece of
// payment data the field expects.
func classifyField(h fieldHints) (schemas.FieldKind, schemas.PaymentFieldKind) {
	if pf := paymentFieldKind(h); pf != "" {
		return schemas.FieldPayment, pf
	}
	text := h.text()
	for _, group := range fieldKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.kind, ""
			}
		}
	}
	if strings.EqualFold(h.InputType, "email") || strings.EqualFold(h.InputType, "tel") {
		return schemas.FieldContact, ""
	}
	switch profileFieldKind(h) {
	case "":
		return schemas.FieldUnknown, ""
	case schemas.ProfileEmail, schemas.ProfilePhone:
		return schemas.FieldContact, ""
	default:
		return schemas.FieldShipping, ""
	}
}

// profileFieldKind names the piece of the buyer profile a field expects, or
// returns an empty kind. Autocomplete tokens win over names and labels.
func profileFieldKind(h fieldHints) schemas.ProfileFieldKind {
	if nonProfileInputTypes[strings.ToLower(h.InputType)] {
		return ""
	}
	for _, token := range strings.Fields(strings.ToLower(h.Autocomplete)) {
		if pf, ok := autocompleteProfile[token]; ok {
			return pf
		}
	}
	switch strings.ToLower(h.InputType) {
	case "email":
		return schemas.ProfileEmail
	case "tel":
		return schemas.ProfilePhone
	}

	text := h.text()
	squashed := strings.ReplaceAll(text, " ", "")
	tokens := strings.Fields(text)

	switch {
	case containsAny(text, "email", "e mail"):
		return schemas.ProfileEmail
	case containsAny(text, "phone", "telephone", "mobile") || hasToken(tokens, "tel"):
		return schemas.ProfilePhone
	case containsAny(squashed, "firstname", "givenname", "forename") || hasToken(tokens, "fname"):
		return schemas.ProfileFirstName
	case containsAny(squashed, "lastname", "surname", "familyname") || hasToken(tokens, "lname"):
		return schemas.ProfileLastName
	case containsAny(squashed, "addressline2", "address2", "apartment", "suite") || hasToken(tokens, "apt", "line2"):
		return schemas.ProfileAddressLine2
	case containsAny(text, "zip", "postal", "postcode"):
		return schemas.ProfilePostalCode
	case containsAny(text, "city", "town", "locality"):
		return schemas.ProfileCity
	case containsAny(text, "province", "region", "county") || hasToken(tokens, "state"):
		return schemas.ProfileRegion
	case containsAny(text, "country"):
		return schemas.ProfileCountry
	case containsAny(text, "address", "street") || hasToken(tokens, "address1", "line1"):
		return schemas.ProfileAddressLine1
	case containsAny(squashed, "fullname") || hasToken(tokens, "name") && !containsAny(text, "company", "user", "business", "coupon"):
		return schemas.ProfileFullName
	}
	return ""
}

func paymentFieldKind(h fieldHints) schemas.PaymentFieldKind {
	for _, token := range strings.Fields(strings.ToLower(h.Autocomplete)) {
		if pf, ok := autocompletePayment[token]; ok {
			return pf
		}
	}

	text := h.text()
	squashed := strings.ReplaceAll(text, " ", "")
	tokens := strings.Fields(text)
	cc := hasToken(tokens, "cc")
	cardContext := cc || containsAny(text, "card", "credit")

	switch {
	case containsAny(text, "cvv", "cvc", "security code", "verification value", "card code") || hasToken(tokens, "csc"):
		return schemas.PaymentCVV
	case containsAny(squashed, "cardholder", "nameoncard") || hasToken(tokens, "ccname") || cc && hasToken(tokens, "name"):
		return schemas.PaymentCardHolder
	case containsAny(text, "expir", "exp date", "expdate") || cardContext && hasToken(tokens, "exp"):
		month := containsAny(text, "month") || hasToken(tokens, "mm")
		year := containsAny(text, "year") || hasToken(tokens, "yy", "yyyy")
		switch {
		case month && !year:
			return schemas.PaymentExpiryMonth
		case year && !month:
			return schemas.PaymentExpiryYear
		default:
			return schemas.PaymentExpiry
		}
	case containsAny(squashed, "cardnumber", "creditcard") || hasToken(tokens, "ccnumber", "ccnum", "cardnum"):
		return schemas.PaymentCardNumber
	case cardContext && (containsAny(text, "number") || hasToken(tokens, "num")):
		return schemas.PaymentCardNumber
	}
	return ""
}

func hasToken(tokens []string, want ...string) bool {
	for _, t := range tokens {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
