package schemas

import "context"

// -- Collaborator Interfaces --

// Fetcher is the scraping collaborator. It produces structured snapshots of
// whatever page the underlying session currently shows.
type Fetcher interface {
	// Navigate loads the given URL.
	Navigate(ctx context.Context, url string) error
	// Fetch returns a freshly built snapshot of the current page.
	Fetch(ctx context.Context) (*PageSnapshot, error)
}

// Session is a browser session scoped to a single purchase attempt.
type Session interface {
	Fetcher
	ID() string
	Click(ctx context.Context, selector string) error
	// Fill sets the value of an input, textarea or select element.
	Fill(ctx context.Context, selector, value string) error
	// Submit submits the form identified by selector, or the form enclosing it.
	Submit(ctx context.Context, selector string) error
	Close(ctx context.Context) error
}

// CredentialProvider supplies payment data on demand. Implementations must be
// safe for concurrent use and must not cache values on behalf of the caller.
type CredentialProvider interface {
	// GetPaymentField returns the requested value for the user, or ErrNotFound.
	GetPaymentField(ctx context.Context, userIdentity string, field PaymentFieldKind) (string, error)
}

// ProfileProvider supplies the buyer's contact details and address for
// shipping, billing and contact fields.
type ProfileProvider interface {
	// GetProfileField returns the requested value for the user, or ErrNotFound.
	GetProfileField(ctx context.Context, userIdentity string, field ProfileFieldKind) (string, error)
}

// -- LLM Interfaces --

// ModelTier selects between model sizes.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls a single generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest is a complete request to a language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the inference collaborator used by the structure analyzer.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}
