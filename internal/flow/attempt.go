package flow

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/ledger"
)

// Attempt is one purchase attempt. The controller running it is the only
// writer; Record and State may be called from any goroutine.
type Attempt struct {
	id           string
	userIdentity string
	productURL   string
	options      schemas.PurchaseOptions
	startedAt    time.Time

	mu       sync.RWMutex
	state    schemas.AttemptState
	reason   schemas.TerminalReason
	orderRef string
	endedAt  time.Time
	ledger   *ledger.Ledger
}

// NewAttempt creates an attempt in the Started state with an empty ledger.
func NewAttempt(id, userIdentity, productURL string, options schemas.PurchaseOptions) *Attempt {
	return &Attempt{
		id:           id,
		userIdentity: userIdentity,
		productURL:   productURL,
		options:      options,
		startedAt:    time.Now(),
		state:        schemas.StateStarted,
		ledger:       ledger.New(),
	}
}

func (a *Attempt) ID() string { return a.id }

func (a *Attempt) State() schemas.AttemptState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Attempt) TerminalReason() schemas.TerminalReason {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reason
}

// Record returns an immutable copy of the attempt.
func (a *Attempt) Record() schemas.AttemptRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return schemas.AttemptRecord{
		ID:             a.id,
		UserIdentity:   a.userIdentity,
		ProductURL:     a.productURL,
		Options:        a.options,
		State:          a.state,
		TerminalReason: a.reason,
		OrderReference: a.orderRef,
		StartedAt:      a.startedAt,
		EndedAt:        a.endedAt,
		Ledger:         a.ledger.Entries(),
	}
}

// history is the read-only ledger view handed to the analyzer, validator and
// executor. They run on the controller goroutine, so no lock is taken.
func (a *Attempt) history() ledger.View {
	return a.ledger
}

func (a *Attempt) nextStep() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.NextStep()
}

func (a *Attempt) successfulSteps() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.SuccessfulSteps()
}

func (a *Attempt) append(e schemas.LedgerEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Append(e)
}

// transition moves a running attempt to a non-terminal state. Requests on a
// finished attempt are logged and ignored.
func (a *Attempt) transition(to schemas.AttemptState, logger *zap.Logger) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsTerminal() {
		logger.Warn("Ignoring transition on finished attempt.",
			zap.String("state", string(a.state)), zap.String("requested", string(to)))
		return false
	}
	a.state = to
	return true
}

// finish sets the terminal state and reason. It succeeds exactly once.
func (a *Attempt) finish(to schemas.AttemptState, reason schemas.TerminalReason, orderRef string, logger *zap.Logger) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsTerminal() {
		logger.Warn("Ignoring terminal transition on finished attempt.",
			zap.String("state", string(a.state)),
			zap.String("reason", string(a.reason)),
			zap.String("requested", string(to)),
			zap.String("requested_reason", string(reason)))
		return false
	}
	a.state = to
	a.reason = reason
	a.orderRef = orderRef
	a.endedAt = time.Now()
	return true
}
