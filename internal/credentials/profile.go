package credentials

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Profile is the buyer's contact details and address. The same address
// serves shipping and billing forms.
type Profile struct {
	Email        string
	Phone        string
	FullName     string
	FirstName    string
	LastName     string
	AddressLine1 string
	AddressLine2 string
	City         string
	Region       string
	PostalCode   string
	Country      string
}

// Field returns the value a profile field of the given kind expects. Name
// parts are derived from each other when only one form is stored.
func (p Profile) Field(kind schemas.ProfileFieldKind) (string, error) {
	var v string
	switch kind {
	case schemas.ProfileEmail:
		v = p.Email
	case schemas.ProfilePhone:
		v = p.Phone
	case schemas.ProfileFullName:
		v = p.FullName
		if strings.TrimSpace(v) == "" {
			v = strings.TrimSpace(p.FirstName + " " + p.LastName)
		}
	case schemas.ProfileFirstName:
		v = p.FirstName
		if v == "" {
			v, _ = splitName(p.FullName)
		}
	case schemas.ProfileLastName:
		v = p.LastName
		if v == "" {
			_, v = splitName(p.FullName)
		}
	case schemas.ProfileAddressLine1:
		v = p.AddressLine1
	case schemas.ProfileAddressLine2:
		v = p.AddressLine2
	case schemas.ProfileCity:
		v = p.City
	case schemas.ProfileRegion:
		v = p.Region
	case schemas.ProfilePostalCode:
		v = p.PostalCode
	case schemas.ProfileCountry:
		v = p.Country
	default:
		return "", fmt.Errorf("unknown profile field %q: %w", kind, schemas.ErrNotFound)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("profile field %q: %w", kind, schemas.ErrNotFound)
	}
	return v, nil
}

// splitName splits a full name at its first space.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}
