package analyzer

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

const systemPrompt = `You are the navigation planner of an automated checkout assistant.
You receive a description of the current page of an online store and the steps taken so far.
Choose exactly ONE next action that moves the purchase of the product forward toward a confirmed order.

Rules:
- Only reference selectors that appear in "elements". Never invent selectors.
- Use "fill_field" for contact, shipping and billing fields. Fields with a "profile_field" are filled from the buyer's saved profile: use "fill_field" on such a field or its form with empty "fill_values". Never invent names, addresses, emails or phone numbers.
- Put any other values in "fill_values" keyed by selector.
- Never write payment card data. To enter payment details, use "fill_field" on a payment field with empty "fill_values"; the system supplies the values.
- Use "navigate" only for links on the page or relative paths on the same site.
- If no action makes sense, answer with "action_kind": "none".

Respond with a single JSON object and nothing else:
{
  "action_kind": "click" | "submit_form" | "fill_field" | "navigate" | "none",
  "target_element_ref": "<selector from elements>",
  "fill_values": {"<selector>": "<value>"},
  "url": "<only for navigate without a target>",
  "confidence": 0.0-1.0,
  "rationale": "<one short sentence>"
}`

type promptElement struct {
	Selector  string `json:"selector"`
	Role      string `json:"role"`
	Label     string `json:"label,omitempty"`
	Enabled   bool   `json:"enabled"`
	InputType string `json:"type,omitempty"`
	FieldKind string `json:"field_kind,omitempty"`
	Profile   string `json:"profile_field,omitempty"`
	Href      string `json:"href,omitempty"`
	Form      string `json:"form,omitempty"`
}

type promptStep struct {
	Step    int    `json:"step"`
	Kind    string `json:"action_kind,omitempty"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type promptPayload struct {
	Goal       string                  `json:"goal"`
	ProductURL string                  `json:"product_url"`
	Options    schemas.PurchaseOptions `json:"options"`
	Page       struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
		Text  string `json:"visible_text,omitempty"`
	} `json:"page"`
	Elements    []promptElement `json:"elements"`
	Omitted     int             `json:"omitted_elements,omitempty"`
	History     []promptStep    `json:"history,omitempty"`
	RetryNotice string          `json:"retry_notice,omitempty"`
}

// buildUserPrompt serializes the page and history. Fill values from history are
// never included; they may hold personal data.
func (a *Analyzer) buildUserPrompt(in Input) (string, error) {
	var p promptPayload
	p.Goal = "Complete the purchase of the product at product_url with the given options."
	p.ProductURL = in.ProductURL
	p.Options = in.Options
	p.Page.URL = in.Snapshot.URL
	p.Page.Title = in.Snapshot.Title
	p.Page.Text = truncate(strings.TrimSpace(in.Snapshot.Text), a.opts.MaxTextChars)

	els, omitted := selectElements(in.Snapshot.Elements, a.opts.MaxElements)
	p.Elements = els
	p.Omitted = omitted

	if in.History != nil {
		entries := in.History.Entries()
		if len(entries) > a.opts.HistoryWindow {
			entries = entries[len(entries)-a.opts.HistoryWindow:]
		}
		for _, e := range entries {
			s := promptStep{Step: e.StepIndex, Outcome: string(e.Outcome), Reason: e.Reason}
			if e.Action != nil {
				s.Kind = string(e.Action.Kind)
				s.Target = e.Action.Ref()
			}
			p.History = append(p.History, s)
		}
	}

	if in.Retry > 0 {
		p.RetryNotice = fmt.Sprintf("Previous proposal for this step failed (%d time(s)): %s. Choose a different action.",
			in.Retry, truncate(in.LastFailure, 300))
	}

	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt payload: %w", err)
	}
	return string(b), nil
}

// selectElements keeps at most max elements, enabled ones first, preserving
// page order within each group.
func selectElements(elements []schemas.Element, max int) ([]promptElement, int) {
	out := make([]promptElement, 0, min(len(elements), max))
	take := func(enabled bool) {
		for _, e := range elements {
			if len(out) >= max {
				return
			}
			if e.Enabled != enabled {
				continue
			}
			pe := promptElement{
				Selector:  e.Selector,
				Role:      string(e.Role),
				Label:     truncate(e.Label, 120),
				Enabled:   e.Enabled,
				InputType: e.InputType,
				Profile:   string(e.ProfileField),
				Href:      e.Href,
				Form:      e.Form,
			}
			if e.FieldKind != "" && e.FieldKind != schemas.FieldUnknown {
				pe.FieldKind = string(e.FieldKind)
			}
			out = append(out, pe)
		}
	}
	take(true)
	take(false)
	return out, len(elements) - len(out)
}
