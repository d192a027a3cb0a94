// Package ledger implements the append-only record of an attempt's steps.
package ledger

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// View is a read-only view of a ledger. The analyzer, validator and executor
// receive a View; only the flow controller holds the *Ledger.
type View interface {
	Len() int
	Entries() []schemas.LedgerEntry
	// Occurrences counts entries carrying an action with the given
	// (fingerprint, kind, reference) triple.
	Occurrences(fingerprint string, kind schemas.ActionKind, target string) int
	// HasSuccessfulTerminal reports whether a purchase-confirming action already succeeded.
	HasSuccessfulTerminal() bool
}

// Ledger is the ordered step history of one attempt. It is owned by a single
// goroutine and is not safe for concurrent use.
type Ledger struct {
	entries []schemas.LedgerEntry
	now     func() time.Time
}

var _ View = (*Ledger)(nil)

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{now: time.Now}
}

// NextStep is the step index the next appended entry must carry.
func (l *Ledger) NextStep() int {
	return len(l.entries)
}

// Append adds an entry. Step indices start at 0 and increase by one per entry;
// anything else is refused so existing history is never rewritten.
func (l *Ledger) Append(e schemas.LedgerEntry) error {
	if e.StepIndex != l.NextStep() {
		return fmt.Errorf("ledger: step index %d out of order, expected %d", e.StepIndex, l.NextStep())
	}
	if e.Action != nil && e.Action.StepIndex != e.StepIndex {
		return fmt.Errorf("ledger: action step index %d does not match entry %d", e.Action.StepIndex, e.StepIndex)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Action != nil {
		a := cloneAction(*e.Action)
		e.Action = &a
	}
	l.entries = append(l.entries, e)
	return nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of all entries in append order.
func (l *Ledger) Entries() []schemas.LedgerEntry {
	out := make([]schemas.LedgerEntry, len(l.entries))
	for i, e := range l.entries {
		if e.Action != nil {
			a := cloneAction(*e.Action)
			e.Action = &a
		}
		out[i] = e
	}
	return out
}

// Last returns the most recent entry.
func (l *Ledger) Last() (schemas.LedgerEntry, bool) {
	if len(l.entries) == 0 {
		return schemas.LedgerEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

func (l *Ledger) Occurrences(fingerprint string, kind schemas.ActionKind, target string) int {
	n := 0
	for _, e := range l.entries {
		if e.Action == nil || e.Fingerprint != fingerprint {
			continue
		}
		if e.Action.Kind == kind && e.Action.Ref() == target {
			n++
		}
	}
	return n
}

func (l *Ledger) HasSuccessfulTerminal() bool {
	for _, e := range l.entries {
		if e.Action != nil && e.Action.Terminal && e.Outcome == schemas.OutcomeSuccess {
			return true
		}
	}
	return false
}

// SuccessfulSteps counts entries whose action executed successfully.
func (l *Ledger) SuccessfulSteps() int {
	n := 0
	for _, e := range l.entries {
		if e.Action != nil && e.Outcome == schemas.OutcomeSuccess {
			n++
		}
	}
	return n
}

func cloneAction(a schemas.ValidatedAction) schemas.ValidatedAction {
	if a.FillValues != nil {
		fv := make(map[string]string, len(a.FillValues))
		for k, v := range a.FillValues {
			fv[k] = v
		}
		a.FillValues = fv
	}
	return a
}
