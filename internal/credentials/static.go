package credentials

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/observability"
)

// Static serves cards and buyer profiles from configuration. It exists for
// local runs against test cards; production deployments use the database
// provider.
type Static struct {
	cards    map[string]Card
	profiles map[string]Profile
	logger   *zap.Logger
}

var (
	_ schemas.CredentialProvider = (*Static)(nil)
	_ schemas.ProfileProvider    = (*Static)(nil)
)

// NewStatic builds a provider from the credentials.static section. Keys are
// matched case-insensitively because viper lowercases map keys.
func NewStatic(cfg config.CredentialsConfig, logger *zap.Logger) *Static {
	s := &Static{
		cards:    make(map[string]Card, len(cfg.Static)),
		profiles: make(map[string]Profile, len(cfg.Profiles)),
		logger:   logger.Named("credentials"),
	}
	for user, fields := range cfg.Static {
		get := lookup(fields)
		s.cards[strings.ToLower(user)] = Card{
			Number:      get(string(schemas.PaymentCardNumber)),
			Holder:      get(string(schemas.PaymentCardHolder), "cardholder_name"),
			ExpiryMonth: get(string(schemas.PaymentExpiryMonth)),
			ExpiryYear:  get(string(schemas.PaymentExpiryYear)),
			CVV:         get(string(schemas.PaymentCVV), "cvc"),
		}
	}
	for user, fields := range cfg.Profiles {
		get := lookup(fields)
		s.profiles[strings.ToLower(user)] = Profile{
			Email:        get(string(schemas.ProfileEmail)),
			Phone:        get(string(schemas.ProfilePhone)),
			FullName:     get(string(schemas.ProfileFullName), "name"),
			FirstName:    get(string(schemas.ProfileFirstName)),
			LastName:     get(string(schemas.ProfileLastName)),
			AddressLine1: get(string(schemas.ProfileAddressLine1), "address"),
			AddressLine2: get(string(schemas.ProfileAddressLine2)),
			City:         get(string(schemas.ProfileCity)),
			Region:       get(string(schemas.ProfileRegion), "state"),
			PostalCode:   get(string(schemas.ProfilePostalCode), "zip"),
			Country:      get(string(schemas.ProfileCountry)),
		}
	}
	s.logger.Debug("Static credential provider loaded.", zap.Int("users", len(s.cards)), zap.Int("profiles", len(s.profiles)))
	return s
}

// lookup returns a case-insensitive getter over fields that tries each key
// in turn.
func lookup(fields map[string]string) func(keys ...string) string {
	return func(keys ...string) string {
		for _, k := range keys {
			for fk, v := range fields {
				if strings.EqualFold(fk, k) {
					return v
				}
			}
		}
		return ""
	}
}

func (s *Static) GetPaymentField(ctx context.Context, userIdentity string, field schemas.PaymentFieldKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	card, ok := s.cards[strings.ToLower(userIdentity)]
	if !ok {
		return "", fmt.Errorf("no card for user %q: %w", userIdentity, schemas.ErrNotFound)
	}
	s.logger.Debug("Resolving payment field.", zap.String("user", userIdentity), zap.String("field", string(field)),
		zap.String("card", observability.MaskCard(card.Number)))
	return card.Field(field)
}

func (s *Static) GetProfileField(ctx context.Context, userIdentity string, field schemas.ProfileFieldKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	profile, ok := s.profiles[strings.ToLower(userIdentity)]
	if !ok {
		return "", fmt.Errorf("no profile for user %q: %w", userIdentity, schemas.ErrNotFound)
	}
	s.logger.Debug("Resolving profile field.", zap.String("user", userIdentity), zap.String("field", string(field)))
	return profile.Field(field)
}
