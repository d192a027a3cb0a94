package schemas

import "time"

// ActionKind is the kind of interaction an action performs.
type ActionKind string

const (
	ActionClick      ActionKind = "click"
	ActionSubmitForm ActionKind = "submit_form"
	ActionFillField  ActionKind = "fill_field"
	ActionNavigate   ActionKind = "navigate"
)

// Valid reports whether k is one of the recognized action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionClick, ActionSubmitForm, ActionFillField, ActionNavigate:
		return true
	}
	return false
}

// ActionPlan is a proposed next step. It is untrusted input and must pass
// validation before anything executes it.
type ActionPlan struct {
	Target     string            `json:"target_element_ref"`
	Kind       ActionKind        `json:"action_kind"`
	FillValues map[string]string `json:"fill_values,omitempty"`
	URL        string            `json:"url,omitempty"`
	Confidence float64           `json:"confidence"`
	// Rationale is kept for audit only.
	Rationale string `json:"rationale,omitempty"`
}

// ValidatedAction is an ActionPlan that passed validation.
type ValidatedAction struct {
	StepIndex  int               `json:"step_index"`
	Target     string            `json:"target_element_ref"`
	Kind       ActionKind        `json:"action_kind"`
	FillValues map[string]string `json:"fill_values,omitempty"`
	URL        string            `json:"url,omitempty"`
	Confidence float64           `json:"confidence"`
	Rationale  string            `json:"rationale,omitempty"`
	// Terminal marks a purchase-confirming action. It runs at most once per attempt.
	Terminal bool `json:"terminal"`
}

// Outcome is the result of one ledger step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// LedgerEntry records one step of an attempt.
type LedgerEntry struct {
	StepIndex   int              `json:"step_index"`
	Fingerprint string           `json:"content_fingerprint"`
	Action      *ValidatedAction `json:"validated_action"`
	Outcome     Outcome          `json:"outcome"`
	Reason      string           `json:"reason,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// AttemptState is the state of a purchase attempt.
type AttemptState string

const (
	StateStarted    AttemptState = "Started"
	StateAnalyzing  AttemptState = "Analyzing"
	StateValidating AttemptState = "Validating"
	StateExecuting  AttemptState = "Executing"
	StateEvaluating AttemptState = "Evaluating"
	StateCompleted  AttemptState = "Completed"
	StateFailed     AttemptState = "Failed"
	StateAborted    AttemptState = "Aborted"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s AttemptState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// Status maps the state onto the coarse purchase status stored for an attempt.
func (s AttemptState) Status() string {
	switch s {
	case StateStarted:
		return "created"
	case StateCompleted:
		return "completed"
	case StateFailed, StateAborted:
		return "failed"
	default:
		return "processing"
	}
}

// TerminalReason explains why an attempt reached a terminal state.
type TerminalReason string

const (
	ReasonOrderConfirmed      TerminalReason = "OrderConfirmed"
	ReasonDryRun              TerminalReason = "DryRun"
	ReasonAnalysisExhausted   TerminalReason = "AnalysisExhausted"
	ReasonValidationExhausted TerminalReason = "ValidationExhausted"
	ReasonExecutionExhausted  TerminalReason = "ExecutionExhausted"
	ReasonLoopDetected        TerminalReason = "LoopDetected"
	ReasonSessionExpired      TerminalReason = "SessionExpired"
	ReasonDuplicateTerminal   TerminalReason = "DuplicateTerminalAction"
	ReasonTerminalUnconfirmed TerminalReason = "TerminalActionUnconfirmed"
	ReasonStepCeiling         TerminalReason = "TerminationCeilingExceeded"
	ReasonPaymentDeclined     TerminalReason = "PaymentDeclined"
	ReasonCancelled           TerminalReason = "Cancelled"
	ReasonSessionUnavailable  TerminalReason = "SessionUnavailable"
	ReasonNoCredentials       TerminalReason = "CredentialsUnavailable"
	ReasonInternalError       TerminalReason = "InternalError"
)

// PurchaseOptions carries the buyer's selections for the product.
type PurchaseOptions struct {
	Quantity int               `json:"quantity,omitempty"`
	Variants map[string]string `json:"variants,omitempty"`
}

// AttemptRecord is an immutable copy of a purchase attempt, suitable for
// reporting and archival.
type AttemptRecord struct {
	ID             string          `json:"attempt_id"`
	UserIdentity   string          `json:"user_identity"`
	ProductURL     string          `json:"product_url"`
	Options        PurchaseOptions `json:"options"`
	State          AttemptState    `json:"state"`
	TerminalReason TerminalReason  `json:"terminal_reason,omitempty"`
	OrderReference string          `json:"order_reference,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at,omitempty"`
	Ledger         []LedgerEntry   `json:"ledger"`
}

// Ref returns the plan's reference: the target selector, or the URL for a
// navigation that does not go through a page element.
func (p *ActionPlan) Ref() string {
	if p.Target != "" {
		return p.Target
	}
	return p.URL
}

// Ref returns the action's reference, see ActionPlan.Ref.
func (a *ValidatedAction) Ref() string {
	if a.Target != "" {
		return a.Target
	}
	return a.URL
}
