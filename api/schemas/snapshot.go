package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ElementRole describes what kind of interactive element a descriptor refers to.
type ElementRole string

const (
	RoleButton   ElementRole = "button"
	RoleLink     ElementRole = "link"
	RoleInput    ElementRole = "input"
	RoleSelect   ElementRole = "select"
	RoleTextarea ElementRole = "textarea"
	RoleCheckbox ElementRole = "checkbox"
	RoleForm     ElementRole = "form"
)

// FieldKind is the page-side classification of a form field. It is assigned by
// the snapshot builder from the markup, never by an action plan.
type FieldKind string

const (
	FieldUnknown  FieldKind = "unknown"
	FieldBilling  FieldKind = "billing"
	FieldShipping FieldKind = "shipping"
	FieldPayment  FieldKind = "payment"
	FieldContact  FieldKind = "contact"
)

// PaymentFieldKind identifies which piece of payment data a payment field expects.
type PaymentFieldKind string

const (
	PaymentCardNumber  PaymentFieldKind = "card_number"
	PaymentCardHolder  PaymentFieldKind = "card_holder"
	PaymentExpiryMonth PaymentFieldKind = "expiry_month"
	PaymentExpiryYear  PaymentFieldKind = "expiry_year"
	PaymentExpiry      PaymentFieldKind = "expiry"
	PaymentCVV         PaymentFieldKind = "cvv"
)

// ProfileFieldKind identifies which piece of the buyer profile a contact,
// shipping or billing field expects.
type ProfileFieldKind string

const (
	ProfileEmail        ProfileFieldKind = "email"
	ProfilePhone        ProfileFieldKind = "phone"
	ProfileFullName     ProfileFieldKind = "full_name"
	ProfileFirstName    ProfileFieldKind = "first_name"
	ProfileLastName     ProfileFieldKind = "last_name"
	ProfileAddressLine1 ProfileFieldKind = "address_line1"
	ProfileAddressLine2 ProfileFieldKind = "address_line2"
	ProfileCity         ProfileFieldKind = "city"
	ProfileRegion       ProfileFieldKind = "region"
	ProfilePostalCode   ProfileFieldKind = "postal_code"
	ProfileCountry      ProfileFieldKind = "country"
)

// Element is one interactive element descriptor of a page.
type Element struct {
	Role     ElementRole `json:"role"`
	Label    string      `json:"label"`
	Selector string      `json:"selector"`
	Enabled  bool        `json:"enabled"`

	Name         string           `json:"name,omitempty"`
	InputType    string           `json:"input_type,omitempty"`
	Href         string           `json:"href,omitempty"`
	FieldKind    FieldKind        `json:"field_kind,omitempty"`
	PaymentField PaymentFieldKind `json:"payment_field,omitempty"`
	ProfileField ProfileFieldKind `json:"profile_field,omitempty"`
	// Form is the selector of the enclosing form, if any.
	Form string `json:"form,omitempty"`
}

// IsFormField reports whether the element accepts a value.
func (e Element) IsFormField() bool {
	switch e.Role {
	case RoleInput, RoleSelect, RoleTextarea, RoleCheckbox:
		return true
	}
	return false
}

// IsPayment reports whether the page tagged this element as a payment field.
func (e Element) IsPayment() bool {
	return e.FieldKind == FieldPayment
}

// PageSnapshot is an immutable description of one fetched page. Callers must
// treat every field, including the Elements slice, as read-only.
type PageSnapshot struct {
	URL         string    `json:"url"`
	FetchedAt   time.Time `json:"fetched_at"`
	Fingerprint string    `json:"content_fingerprint"`
	Title       string    `json:"title,omitempty"`
	Elements    []Element `json:"elements"`
	// Text is the trimmed visible text of the page. It is used for marker
	// detection and analyzer context only.
	Text string `json:"text,omitempty"`
}

// NewPageSnapshot builds a snapshot and computes its content fingerprint.
func NewPageSnapshot(pageURL, title, text string, elements []Element, fetchedAt time.Time) *PageSnapshot {
	els := make([]Element, len(elements))
	copy(els, elements)
	return &PageSnapshot{
		URL:         pageURL,
		FetchedAt:   fetchedAt,
		Fingerprint: Fingerprint(pageURL, els),
		Title:       title,
		Elements:    els,
		Text:        text,
	}
}

// Element returns the element with the given selector.
func (s *PageSnapshot) Element(selector string) (Element, bool) {
	if s == nil {
		return Element{}, false
	}
	for _, e := range s.Elements {
		if e.Selector == selector {
			return e, true
		}
	}
	return Element{}, false
}

// Host returns the host of the snapshot URL, or an empty string if it does not parse.
func (s *PageSnapshot) Host() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// PaymentElements returns the enabled payment-tagged fields. When form is not
// empty only fields of that form are returned.
func (s *PageSnapshot) PaymentElements(form string) []Element {
	var out []Element
	for _, e := range s.Elements {
		if !e.IsPayment() || !e.Enabled || e.PaymentField == "" {
			continue
		}
		if form != "" && e.Form != form {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ProfileElements returns the enabled fields tagged with a profile field.
// When form is not empty only fields of that form are returned.
func (s *PageSnapshot) ProfileElements(form string) []Element {
	var out []Element
	for _, e := range s.Elements {
		if e.ProfileField == "" || e.IsPayment() || !e.Enabled {
			continue
		}
		if form != "" && e.Form != form {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Fingerprint hashes the normalized structure of a page: the URL path and the
// role, selector and enabled state of every element, in order. Labels and
// free text are excluded so cosmetic changes do not produce a new fingerprint.
func Fingerprint(pageURL string, elements []Element) string {
	h := sha256.New()
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		path = u.Host + u.Path
	}
	h.Write([]byte(strings.ToLower(path)))
	for _, e := range elements {
		h.Write([]byte{0})
		h.Write([]byte(e.Role))
		h.Write([]byte{'|'})
		h.Write([]byte(e.Selector))
		h.Write([]byte{'|'})
		h.Write([]byte(strconv.FormatBool(e.Enabled)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
