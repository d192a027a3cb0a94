// Package flow runs the purchase state machine: fetch, analyze, validate,
// execute and evaluate, until the attempt reaches a terminal state.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/analyzer"
	"github.com/xkilldash9x/cartpilot/internal/executor"
	"github.com/xkilldash9x/cartpilot/internal/ledger"
)

// Analyzer proposes the next action for a page.
type Analyzer interface {
	Propose(ctx context.Context, in analyzer.Input) (*schemas.ActionPlan, error)
}

// Validator turns a proposal into an executable action or rejects it.
type Validator interface {
	Validate(plan *schemas.ActionPlan, snap *schemas.PageSnapshot, history ledger.View, step int) (*schemas.ValidatedAction, error)
}

// Executor performs a validated action against the live page.
type Executor interface {
	Execute(ctx context.Context, req executor.Request, session schemas.Session) (*schemas.PageSnapshot, error)
}

// Options is the retry and termination policy.
type Options struct {
	// MaxRetries is K: consecutive retryable failures allowed at one step.
	MaxRetries int
	// MaxSteps caps the number of successfully executed steps.
	MaxSteps     int
	DryRun       bool
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 25
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.RetryBackoff {
		o.MaxBackoff = 10 * o.RetryBackoff
	}
	return o
}

type phase int

const (
	phaseAnalysis phase = iota
	phaseValidation
	phaseExecution
)

func (p phase) exhausted() schemas.TerminalReason {
	switch p {
	case phaseAnalysis:
		return schemas.ReasonAnalysisExhausted
	case phaseValidation:
		return schemas.ReasonValidationExhausted
	default:
		return schemas.ReasonExecutionExhausted
	}
}

// Controller drives attempts. It holds no per-attempt state and may run
// several attempts concurrently, each on its own goroutine.
type Controller struct {
	analyzer  Analyzer
	validator Validator
	executor  Executor
	markers   *Markers
	opts      Options
	logger    *zap.Logger
}

// New creates a Controller.
func New(an Analyzer, va Validator, ex Executor, markers *Markers, opts Options, logger *zap.Logger) (*Controller, error) {
	if an == nil || va == nil || ex == nil {
		return nil, errors.New("flow controller requires an analyzer, a validator and an executor")
	}
	if markers == nil {
		return nil, errors.New("flow controller requires page markers")
	}
	return &Controller{
		analyzer:  an,
		validator: va,
		executor:  ex,
		markers:   markers,
		opts:      opts.withDefaults(),
		logger:    logger.Named("flow"),
	}, nil
}

// run is the state of one Run call.
type run struct {
	at          *Attempt
	session     schemas.Session
	log         *zap.Logger
	snap        *schemas.PageSnapshot
	navigated   bool
	retries     int
	lastFailure string
	bo          backoff.BackOff
	// pending is a purchase-confirming action that was dispatched but whose
	// result page could not be read. It is never executed again.
	pending *schemas.ValidatedAction
}

// Run drives the attempt to a terminal state and returns its final record.
// The session belongs to the caller; Run never closes it.
func (c *Controller) Run(ctx context.Context, at *Attempt, session schemas.Session) schemas.AttemptRecord {
	r := &run{
		at:      at,
		session: session,
		log:     c.logger.With(zap.String("attempt_id", at.ID())),
		bo:      c.newBackOff(),
	}
	r.log.Info("Purchase attempt started.", zap.String("product_url", at.productURL))

	for !c.cycle(ctx, r) {
	}

	rec := at.Record()
	r.log.Info("Purchase attempt finished.",
		zap.String("state", string(rec.State)),
		zap.String("reason", string(rec.TerminalReason)),
		zap.Int("steps", len(rec.Ledger)),
		zap.Duration("duration", rec.EndedAt.Sub(rec.StartedAt)))
	return rec
}

// Abandon fails an attempt that never got to run, for example because no
// browser session could be opened.
func (c *Controller) Abandon(at *Attempt, reason schemas.TerminalReason, cause error) schemas.AttemptRecord {
	r := &run{at: at, log: c.logger.With(zap.String("attempt_id", at.ID()))}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	r.log.Warn("Purchase attempt abandoned.", zap.String("reason", string(reason)), zap.Error(cause))
	c.fail(r, reason, nil, detail)
	return at.Record()
}

// cycle runs Analyzing through Evaluating once. It reports whether the
// attempt reached a terminal state.
func (c *Controller) cycle(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		return c.abort(ctx, r, nil)
	}
	if r.pending != nil {
		return c.settle(ctx, r)
	}
	step := r.at.nextStep()

	// Analyzing
	r.at.transition(schemas.StateAnalyzing, r.log)
	if r.snap == nil {
		snap, err := c.loadPage(ctx, r)
		if err != nil {
			return c.onFailure(ctx, r, phaseExecution, nil, err)
		}
		r.snap = snap
	}
	plan, err := c.analyzer.Propose(ctx, analyzer.Input{
		Snapshot:    r.snap,
		History:     r.at.history(),
		ProductURL:  r.at.productURL,
		Options:     r.at.options,
		Retry:       r.retries,
		LastFailure: r.lastFailure,
	})
	if err != nil {
		return c.onFailure(ctx, r, phaseAnalysis, nil, err)
	}

	// Validating
	r.at.transition(schemas.StateValidating, r.log)
	action, err := c.validator.Validate(plan, r.snap, r.at.history(), step)
	if err != nil {
		return c.onFailure(ctx, r, phaseValidation, nil, err)
	}

	// Executing
	r.at.transition(schemas.StateExecuting, r.log)
	next, err := c.executor.Execute(ctx, executor.Request{
		Action:       action,
		Snapshot:     r.snap,
		UserIdentity: r.at.userIdentity,
		History:      r.at.history(),
		DryRun:       c.opts.DryRun,
	}, r.session)
	if errors.Is(err, executor.ErrDryRunHalt) {
		r.log.Info("Dry run halted before purchase-confirming action.", zap.String("target", action.Ref()))
		c.closeLedger(r, action, schemas.OutcomeSkipped, string(schemas.ReasonDryRun))
		r.at.finish(schemas.StateCompleted, schemas.ReasonDryRun, "", r.log)
		return true
	}
	if err != nil {
		return c.onFailure(ctx, r, phaseExecution, action, err)
	}

	// Evaluating
	r.at.transition(schemas.StateEvaluating, r.log)
	if err := r.at.append(schemas.LedgerEntry{
		StepIndex:   step,
		Fingerprint: r.snap.Fingerprint,
		Action:      action,
		Outcome:     schemas.OutcomeSuccess,
	}); err != nil {
		r.log.Error("Ledger rejected entry.", zap.Error(err))
		return c.fail(r, schemas.ReasonInternalError, nil, err.Error())
	}
	r.log.Info("Step executed.",
		zap.Int("step_index", step),
		zap.String("kind", string(action.Kind)),
		zap.String("target", action.Ref()),
		zap.Bool("terminal", action.Terminal))
	r.retries, r.lastFailure = 0, ""
	r.bo.Reset()
	r.snap = next
	return c.evaluate(ctx, r)
}

// settle re-reads the page after a purchase-confirming action whose outcome
// is unknown. The action counts as executed once the page can be read again;
// the evaluation then decides whether the order went through.
func (c *Controller) settle(ctx context.Context, r *run) bool {
	action := r.pending
	r.at.transition(schemas.StateEvaluating, r.log)
	next, err := c.loadPage(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return c.abort(ctx, r, action)
		}
		if reason, fatal := fatalReason(err); fatal {
			r.log.Warn("Fatal failure while confirming dispatched action.", zap.String("reason", string(reason)), zap.Error(err))
			return c.fail(r, reason, action, err.Error())
		}
		r.retries++
		r.lastFailure = err.Error()
		r.log.Warn("Page still unreadable after purchase-confirming action.",
			zap.Int("step_index", action.StepIndex),
			zap.Int("retry", r.retries),
			zap.Error(err))
		if r.retries >= c.opts.MaxRetries {
			return c.fail(r, schemas.ReasonTerminalUnconfirmed, action, err.Error())
		}
		if !c.sleep(ctx, r.bo.NextBackOff()) {
			return c.abort(ctx, r, action)
		}
		return false
	}

	if err := r.at.append(schemas.LedgerEntry{
		StepIndex:   action.StepIndex,
		Fingerprint: r.snap.Fingerprint,
		Action:      action,
		Outcome:     schemas.OutcomeSuccess,
	}); err != nil {
		r.log.Error("Ledger rejected entry.", zap.Error(err))
		return c.fail(r, schemas.ReasonInternalError, nil, err.Error())
	}
	r.log.Info("Dispatched purchase-confirming action settled.", zap.Int("step_index", action.StepIndex), zap.String("url", next.URL))
	r.pending = nil
	r.retries, r.lastFailure = 0, ""
	r.bo.Reset()
	r.snap = next
	return c.evaluate(ctx, r)
}

// evaluate checks the stop conditions in order on the page an action
// produced.
func (c *Controller) evaluate(ctx context.Context, r *run) bool {
	sig := c.markers.Inspect(r.snap)
	switch {
	case sig.Confirmed:
		r.log.Info("Order confirmation detected.", zap.String("order_reference", sig.OrderReference), zap.String("url", r.snap.URL))
		r.at.finish(schemas.StateCompleted, schemas.ReasonOrderConfirmed, sig.OrderReference, r.log)
		return true
	case sig.PaymentError != "":
		r.log.Warn("Payment error detected.", zap.String("marker", sig.PaymentError))
		return c.fail(r, schemas.ReasonPaymentDeclined, nil, sig.PaymentError)
	case r.at.successfulSteps() >= c.opts.MaxSteps:
		r.log.Warn("Step ceiling reached.", zap.Int("max_steps", c.opts.MaxSteps))
		return c.fail(r, schemas.ReasonStepCeiling, nil, schemas.ErrTerminationCeilingExceeded.Error())
	case ctx.Err() != nil:
		return c.abort(ctx, r, nil)
	}
	return false
}

// onFailure applies the retry policy to a failed phase.
func (c *Controller) onFailure(ctx context.Context, r *run, p phase, action *schemas.ValidatedAction, err error) bool {
	if ctx.Err() != nil {
		return c.abort(ctx, r, action)
	}

	if reason, fatal := fatalReason(err); fatal {
		r.log.Warn("Fatal failure.", zap.String("reason", string(reason)), zap.Error(err))
		return c.fail(r, reason, action, err.Error())
	}

	if p == phaseExecution && action != nil && action.Terminal && schemas.IsDispatched(err) {
		// The order may have been placed. Only re-read the page from here on.
		r.log.Warn("Purchase-confirming action outcome unknown.", zap.Int("step_index", action.StepIndex), zap.Error(err))
		r.pending = action
		r.retries, r.lastFailure = 0, ""
		r.bo.Reset()
		if !c.sleep(ctx, r.bo.NextBackOff()) {
			return c.abort(ctx, r, action)
		}
		return false
	}

	r.retries++
	r.lastFailure = err.Error()
	r.log.Info("Retryable failure.",
		zap.Int("step_index", r.at.nextStep()),
		zap.Int("retry", r.retries),
		zap.Int("max_retries", c.opts.MaxRetries),
		zap.Error(err))
	if r.retries >= c.opts.MaxRetries {
		return c.fail(r, p.exhausted(), action, err.Error())
	}

	if p == phaseValidation {
		// The page has not changed; ask again straight away.
		return false
	}
	if !c.sleep(ctx, r.bo.NextBackOff()) {
		return c.abort(ctx, r, action)
	}
	r.snap = nil
	return false
}

// fatalReason reports whether err ends the attempt regardless of retries.
func fatalReason(err error) (schemas.TerminalReason, bool) {
	var rej *schemas.ValidationRejection
	if errors.As(err, &rej) && rej.Reason == schemas.RejectLoopDetected {
		return schemas.ReasonLoopDetected, true
	}
	var ef *schemas.ExecutionFailure
	if errors.As(err, &ef) {
		switch ef.Kind {
		case schemas.ExecSessionExpired:
			return schemas.ReasonSessionExpired, true
		case schemas.ExecDuplicateTerminal:
			return schemas.ReasonDuplicateTerminal, true
		}
	}
	if errors.Is(err, schemas.ErrCredentialsUnavailable) {
		return schemas.ReasonNoCredentials, true
	}
	if !schemas.IsRetryable(err) {
		return schemas.ReasonInternalError, true
	}
	return "", false
}

// loadPage navigates to the product on the first cycle and otherwise
// re-reads the current page.
func (c *Controller) loadPage(ctx context.Context, r *run) (*schemas.PageSnapshot, error) {
	if !r.navigated {
		if err := r.session.Navigate(ctx, r.at.productURL); err != nil {
			return nil, executor.Classify(ctx, err, r.at.productURL)
		}
		r.navigated = true
	}
	snap, err := r.session.Fetch(ctx)
	if err != nil {
		return nil, executor.Classify(ctx, err, "")
	}
	if snap == nil {
		return nil, &schemas.ExecutionFailure{Kind: schemas.ExecNetworkError, Err: errors.New("fetch returned no snapshot")}
	}
	return snap, nil
}

func (c *Controller) fail(r *run, reason schemas.TerminalReason, action *schemas.ValidatedAction, detail string) bool {
	c.closeLedger(r, action, schemas.OutcomeFailure, closingReason(reason, detail))
	r.at.finish(schemas.StateFailed, reason, "", r.log)
	return true
}

func (c *Controller) abort(ctx context.Context, r *run, action *schemas.ValidatedAction) bool {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		// The attempt deadline is a termination ceiling, not a caller cancellation.
		c.closeLedger(r, action, schemas.OutcomeFailure, closingReason(schemas.ReasonStepCeiling, "attempt deadline exceeded"))
		r.at.finish(schemas.StateFailed, schemas.ReasonStepCeiling, "", r.log)
		return true
	}
	r.log.Info("Attempt cancelled.", zap.NamedError("cause", context.Cause(ctx)))
	c.closeLedger(r, action, schemas.OutcomeSkipped, string(schemas.ReasonCancelled))
	r.at.finish(schemas.StateAborted, schemas.ReasonCancelled, "", r.log)
	return true
}

// closeLedger appends the entry that records why the attempt stopped.
func (c *Controller) closeLedger(r *run, action *schemas.ValidatedAction, outcome schemas.Outcome, reason string) {
	if r.at.State().IsTerminal() {
		return
	}
	step := r.at.nextStep()
	if action != nil && action.StepIndex != step {
		action = nil
	}
	fingerprint := ""
	if r.snap != nil {
		fingerprint = r.snap.Fingerprint
	}
	if err := r.at.append(schemas.LedgerEntry{
		StepIndex:   step,
		Fingerprint: fingerprint,
		Action:      action,
		Outcome:     outcome,
		Reason:      reason,
	}); err != nil {
		r.log.Error("Failed to write closing ledger entry.", zap.Error(err))
	}
}

func closingReason(reason schemas.TerminalReason, detail string) string {
	if detail == "" {
		return string(reason)
	}
	return fmt.Sprintf("%s: %s", reason, truncate(detail, 300))
}

// newBackOff doubles the wait from RetryBackoff up to MaxBackoff. It never
// gives up on its own; MaxRetries bounds the number of waits.
func (c *Controller) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d and reports false if ctx ended first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// truncate shortens s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
