// Package validator checks proposed action plans against the current page and
// the attempt history before anything is executed.
package validator

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/ledger"
)

// MaxOccurrences is how many times a (fingerprint, kind, reference) triple may
// appear in a ledger. The next proposal of the same triple is a loop.
const MaxOccurrences = 2

// DefaultConfirmKeywords identify purchase-confirming controls by label.
var DefaultConfirmKeywords = []string{
	"place order",
	"place your order",
	"complete order",
	"complete purchase",
	"confirm order",
	"confirm purchase",
	"submit order",
	"pay now",
	"buy now",
}

// Options tunes the validator.
type Options struct {
	ConfirmKeywords []string
}

// Validator is stateless with respect to attempts and safe for concurrent use.
type Validator struct {
	confirm []string
	logger  *zap.Logger
}

// New creates a Validator.
func New(opts Options, logger *zap.Logger) *Validator {
	keywords := opts.ConfirmKeywords
	if len(keywords) == 0 {
		keywords = DefaultConfirmKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &Validator{confirm: lower, logger: logger.Named("validator")}
}

// Validate runs the checks in order: element existence and state, fill field
// mapping, loop guard, action kind. The first failing check wins.
func (v *Validator) Validate(plan *schemas.ActionPlan, snap *schemas.PageSnapshot, history ledger.View, step int) (*schemas.ValidatedAction, error) {
	if plan == nil || snap == nil {
		return nil, &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Detail: "missing plan or snapshot"}
	}

	// 1. Referenced element exists and is enabled.
	target, hasTarget, err := v.checkTarget(plan, snap)
	if err != nil {
		return nil, err
	}

	// 2. Fill values map onto real, non-payment fields.
	if plan.Kind == schemas.ActionFillField {
		if err := v.checkFill(plan, snap, target, hasTarget); err != nil {
			return nil, err
		}
	}

	// 3. Loop guard.
	if n := history.Occurrences(snap.Fingerprint, plan.Kind, plan.Ref()); n >= MaxOccurrences {
		return nil, &schemas.ValidationRejection{
			Reason: schemas.RejectLoopDetected,
			Target: plan.Ref(),
			Detail: fmt.Sprintf("already executed %d times on this page state", n),
		}
	}

	// 4. Recognized kind.
	if !plan.Kind.Valid() {
		return nil, &schemas.ValidationRejection{
			Reason: schemas.RejectUnknownActionKind,
			Target: plan.Ref(),
			Detail: fmt.Sprintf("action kind %q", plan.Kind),
		}
	}

	action := &schemas.ValidatedAction{
		StepIndex:  step,
		Target:     plan.Target,
		Kind:       plan.Kind,
		URL:        plan.URL,
		Confidence: clamp(plan.Confidence),
		Rationale:  plan.Rationale,
	}
	if plan.Kind == schemas.ActionFillField && len(plan.FillValues) > 0 {
		action.FillValues = make(map[string]string, len(plan.FillValues))
		for k, val := range plan.FillValues {
			action.FillValues[k] = val
		}
	}
	if hasTarget {
		action.Terminal = v.isTerminal(plan.Kind, target, snap)
	}

	v.logger.Debug("Plan validated.",
		zap.Int("step_index", step),
		zap.String("kind", string(action.Kind)),
		zap.String("target", action.Ref()),
		zap.Bool("terminal", action.Terminal))
	return action, nil
}

func (v *Validator) checkTarget(plan *schemas.ActionPlan, snap *schemas.PageSnapshot) (schemas.Element, bool, error) {
	if plan.Target == "" {
		if plan.Kind == schemas.ActionNavigate && plan.URL != "" {
			if err := checkNavigation(plan.URL, snap); err != nil {
				return schemas.Element{}, false, err
			}
			return schemas.Element{}, false, nil
		}
		return schemas.Element{}, false, &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Detail: "no target element"}
	}

	el, ok := snap.Element(plan.Target)
	if !ok {
		return el, false, &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: plan.Target}
	}
	if !el.Enabled {
		return el, true, &schemas.ValidationRejection{Reason: schemas.RejectDisabledElement, Target: plan.Target}
	}
	if plan.Kind == schemas.ActionNavigate {
		if el.Href == "" {
			return el, true, &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: plan.Target, Detail: "navigate needs a link with an href; use click for buttons"}
		}
		if err := checkNavigation(el.Href, snap); err != nil {
			return el, true, err
		}
	}
	return el, true, nil
}

// checkNavigation only allows same-host URLs or links present on the page.
func checkNavigation(raw string, snap *schemas.PageSnapshot) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https") {
		return &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: raw, Detail: "unusable navigation URL"}
	}
	if !u.IsAbs() || strings.EqualFold(u.Host, snap.Host()) {
		return nil
	}
	for _, e := range snap.Elements {
		if e.Role == schemas.RoleLink && e.Href == raw {
			return nil
		}
	}
	return &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: raw, Detail: "navigation leaves the storefront"}
}

func (v *Validator) checkFill(plan *schemas.ActionPlan, snap *schemas.PageSnapshot, target schemas.Element, hasTarget bool) error {
	if len(plan.FillValues) == 0 {
		// An empty fill is only meaningful as a request to inject payment or
		// profile data.
		if hasTarget && injectable(target, snap) {
			return nil
		}
		return &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: plan.Target, Detail: "no fill values"}
	}

	for field, value := range plan.FillValues {
		el, ok := snap.Element(field)
		if !ok || !el.IsFormField() {
			return &schemas.ValidationRejection{Reason: schemas.RejectUnknownElement, Target: field, Detail: "not a form field on this page"}
		}
		if el.IsPayment() {
			return &schemas.ValidationRejection{Reason: schemas.RejectForbiddenField, Target: field, Detail: "payment fields are filled from stored credentials"}
		}
		if !el.Enabled {
			return &schemas.ValidationRejection{Reason: schemas.RejectDisabledElement, Target: field}
		}
		if containsCardNumber(value) {
			return &schemas.ValidationRejection{Reason: schemas.RejectForbiddenField, Target: field, Detail: "value looks like a card number"}
		}
	}
	return nil
}

// isTerminal classifies purchase-confirming actions: a click, submit or link
// whose control reads like an order confirmation, or any submission of a form
// that carries payment fields.
func (v *Validator) isTerminal(kind schemas.ActionKind, el schemas.Element, snap *schemas.PageSnapshot) bool {
	switch kind {
	case schemas.ActionNavigate:
		return v.matchesConfirm(el)
	case schemas.ActionClick:
		if v.matchesConfirm(el) {
			return true
		}
		return el.Role == schemas.RoleButton && el.InputType == "submit" && el.Form != "" && len(snap.PaymentElements(el.Form)) > 0
	case schemas.ActionSubmitForm:
		if v.matchesConfirm(el) {
			return true
		}
		form := formOf(el)
		if form == "" {
			return false
		}
		if len(snap.PaymentElements(form)) > 0 {
			return true
		}
		for _, e := range snap.Elements {
			if e.Form == form && e.Role == schemas.RoleButton && v.matchesConfirm(e) {
				return true
			}
		}
	}
	return false
}

func (v *Validator) matchesConfirm(el schemas.Element) bool {
	hay := strings.ToLower(el.Label + " " + el.Name + " " + el.Selector)
	hay = strings.NewReplacer("-", " ", "_", " ").Replace(hay)
	for _, k := range v.confirm {
		if strings.Contains(hay, k) {
			return true
		}
	}
	return false
}

// injectable reports whether an empty fill on target has anything to inject:
// the target is itself a payment or profile field, or its form holds some.
func injectable(target schemas.Element, snap *schemas.PageSnapshot) bool {
	if target.IsPayment() || target.ProfileField != "" {
		return true
	}
	form := formOf(target)
	if form == "" {
		return false
	}
	return len(snap.PaymentElements(form)) > 0 || len(snap.ProfileElements(form)) > 0
}

func formOf(el schemas.Element) string {
	if el.Role == schemas.RoleForm {
		return el.Selector
	}
	return el.Form
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// containsCardNumber reports whether s carries a 13 to 19 digit run that
// passes the Luhn check. Spaces and dashes inside the run are ignored.
func containsCardNumber(s string) bool {
	var digits []int
	flush := func() bool {
		ok := len(digits) >= 13 && len(digits) <= 19 && luhn(digits)
		digits = digits[:0]
		return ok
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			if flush() {
				return true
			}
		}
	}
	return flush()
}

func luhn(digits []int) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
