// Package analyzer turns page snapshots into proposed action plans by asking a
// language model. Its output is untrusted; callers validate every plan.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/ledger"
)

// Options tunes the analyzer.
type Options struct {
	Timeout       time.Duration
	MaxElements   int
	MaxTextChars  int
	HistoryWindow int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxElements <= 0 {
		o.MaxElements = 150
	}
	if o.MaxTextChars <= 0 {
		o.MaxTextChars = 4000
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 10
	}
	return o
}

// Input is everything the analyzer may look at for one proposal.
type Input struct {
	Snapshot   *schemas.PageSnapshot
	History    ledger.View
	ProductURL string
	Options    schemas.PurchaseOptions
	// Retry is the number of consecutive failures at the current step.
	Retry int
	// LastFailure describes the most recent failure at the current step.
	LastFailure string
}

// Analyzer is the structure analyzer. It holds no attempt state.
type Analyzer struct {
	llm    schemas.LLMClient
	opts   Options
	logger *zap.Logger
}

// New creates an Analyzer backed by the given inference client.
func New(llm schemas.LLMClient, opts Options, logger *zap.Logger) (*Analyzer, error) {
	if llm == nil {
		return nil, errors.New("analyzer requires an LLM client")
	}
	return &Analyzer{llm: llm, opts: opts.withDefaults(), logger: logger.Named("analyzer")}, nil
}

// Propose asks the model for the next action. Every failure is returned as a
// *schemas.AnalysisFailure, except cancellation of ctx, which is returned as is.
func (a *Analyzer) Propose(ctx context.Context, in Input) (*schemas.ActionPlan, error) {
	snap := in.Snapshot
	if snap == nil || len(snap.Elements) == 0 {
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisNoPlausibleAction, Err: errors.New("page has no interactive elements")}
	}

	userPrompt, err := a.buildUserPrompt(in)
	if err != nil {
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisProviderError, Err: err}
	}

	tier := schemas.TierFast
	if in.Retry > 0 {
		tier = schemas.TierPowerful
	}

	apiCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	response, err := a.llm.Generate(apiCtx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         tier,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(apiCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisTimeout, Err: err}
		}
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisProviderError, Err: err}
	}

	proposal, err := parseProposal(response)
	if err != nil {
		a.logger.Warn("Unparseable analyzer response.", zap.Error(err), zap.Int("response_len", len(response)))
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisUnparseable, Err: err}
	}
	if proposal.isNoAction() {
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisNoPlausibleAction, Err: fmt.Errorf("model declined: %s", truncate(proposal.Rationale, 200))}
	}

	plan := proposal.toPlan()
	if err := checkReferences(plan, snap); err != nil {
		return nil, &schemas.AnalysisFailure{Kind: schemas.AnalysisNoPlausibleAction, Err: err}
	}

	a.logger.Debug("Plan proposed.",
		zap.String("kind", string(plan.Kind)),
		zap.String("target", plan.Ref()),
		zap.Float64("confidence", plan.Confidence),
		zap.String("tier", string(tier)))
	return plan, nil
}

// checkReferences drops proposals that point at selectors the page does not have.
func checkReferences(plan *schemas.ActionPlan, snap *schemas.PageSnapshot) error {
	if plan.Target != "" {
		if _, ok := snap.Element(plan.Target); !ok {
			return fmt.Errorf("proposal references unknown element %q", plan.Target)
		}
	} else if plan.Kind != schemas.ActionNavigate {
		return fmt.Errorf("proposal has no target element")
	}
	for field := range plan.FillValues {
		if _, ok := snap.Element(field); !ok {
			return fmt.Errorf("proposal fills unknown element %q", field)
		}
	}
	return nil
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
