// Package executor performs validated actions against a live browser session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/ledger"
	"github.com/xkilldash9x/cartpilot/internal/observability"
)

// ErrDryRunHalt is returned instead of executing a purchase-confirming action
// when the attempt runs in dry-run mode.
var ErrDryRunHalt = errors.New("dry run: halted before purchase-confirming action")

// Request carries one validated action and the context it was validated against.
type Request struct {
	Action       *schemas.ValidatedAction
	Snapshot     *schemas.PageSnapshot
	UserIdentity string
	History      ledger.View
	DryRun       bool
}

// actionHandler performs a single kind of action.
type actionHandler func(ctx context.Context, req Request, session schemas.Session, log *zap.Logger) error

// Executor is stateless apart from its collaborators and may be shared by
// concurrent attempts.
type Executor struct {
	creds    schemas.CredentialProvider
	profiles schemas.ProfileProvider
	logger   *zap.Logger
	handlers map[schemas.ActionKind]actionHandler
}

// New creates an Executor. creds may be nil when no attempt ever reaches a
// payment form; payment injection then fails with ErrCredentialsUnavailable.
// profiles may be nil; profile fields are then left to the plan's values.
func New(creds schemas.CredentialProvider, profiles schemas.ProfileProvider, logger *zap.Logger) *Executor {
	e := &Executor{
		creds:    creds,
		profiles: profiles,
		logger:   logger.Named("executor"),
		handlers: make(map[schemas.ActionKind]actionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionSubmitForm] = e.handleSubmit
	e.handlers[schemas.ActionFillField] = e.handleFill
	e.handlers[schemas.ActionNavigate] = e.handleNavigate
}

// Execute performs the action and returns a freshly fetched snapshot of the
// resulting page. Failures against the page are *schemas.ExecutionFailure.
// Cancellation of ctx is returned as ctx.Err().
func (e *Executor) Execute(ctx context.Context, req Request, session schemas.Session) (*schemas.PageSnapshot, error) {
	a := req.Action
	if a == nil || req.Snapshot == nil {
		return nil, errors.New("executor: request requires an action and a snapshot")
	}
	log := e.logger.With(
		zap.Int("step", a.StepIndex),
		zap.String("kind", string(a.Kind)),
		zap.String("target", a.Ref()),
	)

	if a.Terminal {
		if req.History != nil && req.History.HasSuccessfulTerminal() {
			log.Error("Refusing to repeat a purchase-confirming action.")
			return nil, &schemas.ExecutionFailure{
				Kind:   schemas.ExecDuplicateTerminal,
				Target: a.Ref(),
				Err:    errors.New("a purchase-confirming action already succeeded in this attempt"),
			}
		}
		if req.DryRun {
			log.Info("Dry run: halting before purchase-confirming action.")
			return nil, ErrDryRunHalt
		}
	}

	handler, ok := e.handlers[a.Kind]
	if !ok {
		return nil, fmt.Errorf("executor: no handler registered for action kind: %s", a.Kind)
	}

	if err := handler(ctx, req, session, log); err != nil {
		err = Classify(ctx, err, a.Ref())
		if a.Terminal && classifyKind(ctx, err) != schemas.ExecElementVanished {
			markDispatched(err)
			log.Warn("Purchase-confirming action failed after it may have reached the page.", zap.Error(err))
		}
		return nil, err
	}

	snap, err := session.Fetch(ctx)
	if err != nil {
		err = Classify(ctx, err, "")
		if a.Terminal {
			markDispatched(err)
			log.Warn("Page could not be read after a purchase-confirming action.", zap.Error(err))
		}
		return nil, err
	}
	log.Debug("Action executed.", zap.Bool("terminal", a.Terminal), zap.String("fingerprint", snap.Fingerprint))
	return snap, nil
}

func (e *Executor) handleClick(ctx context.Context, req Request, session schemas.Session, _ *zap.Logger) error {
	return session.Click(ctx, req.Action.Target)
}

func (e *Executor) handleSubmit(ctx context.Context, req Request, session schemas.Session, _ *zap.Logger) error {
	return session.Submit(ctx, req.Action.Target)
}

// handleNavigate follows the target link's href, resolved against the page URL.
// It never clicks: a target without an href is refused.
func (e *Executor) handleNavigate(ctx context.Context, req Request, session schemas.Session, log *zap.Logger) error {
	a := req.Action
	raw := a.URL
	if a.Target != "" {
		el, ok := req.Snapshot.Element(a.Target)
		if !ok || el.Href == "" {
			return &schemas.ExecutionFailure{Kind: schemas.ExecElementVanished, Target: a.Ref(), Err: errors.New("navigation target has no href")}
		}
		raw = el.Href
	}
	dest, err := resolveURL(req.Snapshot.URL, raw)
	if err != nil {
		return &schemas.ExecutionFailure{Kind: schemas.ExecNetworkError, Target: a.Ref(), Err: err}
	}
	log.Debug("Navigating.", zap.String("url", dest))
	return session.Navigate(ctx, dest)
}

// handleFill writes the plan's values, then the buyer profile into the
// profile-tagged fields of the target's form, then payment data when the plan
// asks for it: an empty fill, or a fill targeting a payment field.
func (e *Executor) handleFill(ctx context.Context, req Request, session schemas.Session, log *zap.Logger) error {
	a := req.Action
	selectors := make([]string, 0, len(a.FillValues))
	for sel := range a.FillValues {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)
	for _, sel := range selectors {
		if err := session.Fill(ctx, sel, a.FillValues[sel]); err != nil {
			return err
		}
	}
	log.Debug("Fields filled.", zap.Strings("fields", selectors))

	target, _ := req.Snapshot.Element(a.Target)
	profiled, err := e.injectProfile(ctx, req, target, session, log)
	if err != nil {
		return err
	}
	if len(a.FillValues) > 0 && !target.IsPayment() {
		return nil
	}
	if profiled > 0 && !target.IsPayment() && len(req.Snapshot.PaymentElements(formOf(target))) == 0 {
		return nil
	}
	return e.injectPayment(ctx, req, target, session, log)
}

// injectProfile fills profile-tagged fields from the buyer profile. Values
// the profile does not hold are left as the plan wrote them. It returns the
// number of fields filled.
func (e *Executor) injectProfile(ctx context.Context, req Request, target schemas.Element, session schemas.Session, log *zap.Logger) (int, error) {
	fields := req.Snapshot.ProfileElements(formOf(target))
	if len(fields) == 0 {
		return 0, nil
	}
	if e.profiles == nil {
		log.Debug("No profile provider configured; profile fields left to the plan.", zap.Int("fields", len(fields)))
		return 0, nil
	}

	filled := 0
	for _, f := range fields {
		value, err := e.profiles.GetProfileField(ctx, req.UserIdentity, f.ProfileField)
		if errors.Is(err, schemas.ErrNotFound) {
			log.Debug("Profile has no value for field.", zap.String("field", string(f.ProfileField)), zap.String("selector", f.Selector))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return filled, ctx.Err()
			}
			return filled, &schemas.ExecutionFailure{
				Kind:   schemas.ExecNetworkError,
				Target: f.Selector,
				Err:    fmt.Errorf("profile field %s could not be resolved: %w", f.ProfileField, err),
			}
		}
		if err := session.Fill(ctx, f.Selector, value); err != nil {
			return filled, &schemas.ExecutionFailure{
				Kind:   classifyKind(ctx, err),
				Target: f.Selector,
				Err:    fmt.Errorf("profile field %s could not be filled", f.ProfileField),
			}
		}
		filled++
		log.Debug("Profile field filled.",
			zap.String("field", string(f.ProfileField)),
			zap.String("selector", f.Selector),
			observability.Redacted("value", value))
	}
	return filled, nil
}

func (e *Executor) injectPayment(ctx context.Context, req Request, target schemas.Element, session schemas.Session, log *zap.Logger) error {
	fields := req.Snapshot.PaymentElements(formOf(target))
	if len(fields) == 0 {
		return &schemas.ExecutionFailure{
			Kind:   schemas.ExecElementVanished,
			Target: req.Action.Ref(),
			Err:    errors.New("no enabled payment fields to fill"),
		}
	}
	if e.creds == nil {
		return fmt.Errorf("%w: no credential provider configured", schemas.ErrCredentialsUnavailable)
	}

	for _, f := range fields {
		value, err := e.creds.GetPaymentField(ctx, req.UserIdentity, f.PaymentField)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: field %s: %v", schemas.ErrCredentialsUnavailable, f.PaymentField, err)
		}
		if err := session.Fill(ctx, f.Selector, value); err != nil {
			return &schemas.ExecutionFailure{
				Kind:   classifyKind(ctx, err),
				Target: f.Selector,
				Err:    fmt.Errorf("payment field %s could not be filled", f.PaymentField),
			}
		}
		log.Debug("Payment field filled.",
			zap.String("field", string(f.PaymentField)),
			zap.String("selector", f.Selector),
			observability.Redacted("value", value))
	}
	return nil
}

// formOf returns the selector of the form an element belongs to, or the
// element's own selector when it is a form.
func formOf(el schemas.Element) string {
	if el.Role == schemas.RoleForm {
		return el.Selector
	}
	return el.Form
}

// markDispatched flags an execution failure as having possibly reached the page.
func markDispatched(err error) {
	var ef *schemas.ExecutionFailure
	if errors.As(err, &ef) {
		ef.Dispatched = true
	}
}

func resolveURL(base, raw string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	r, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid navigation url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}
