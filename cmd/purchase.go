package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/engine"
	"github.com/xkilldash9x/cartpilot/internal/observability"
)

const (
	shutdownTimeout   = 30 * time.Second
	cancelGracePeriod = 30 * time.Second
	outputFormatJSON  = "json"
	outputFormatText  = "text"
)

// purchaser is the part of the engine the purchase command needs.
type purchaser interface {
	Purchase(ctx context.Context, req engine.Request) (engine.Result, error)
	Await(ctx context.Context, attemptID string, maxWait time.Duration) (engine.Result, error)
	Cancel(attemptID string) error
}

type purchaseFlags struct {
	user     string
	quantity int
	options  []string
	dryRun   bool
	headful  bool
	timeout  time.Duration
	format   string
}

func newPurchaseCmd(st *rootState) *cobra.Command {
	f := &purchaseFlags{}
	purchaseCmd := &cobra.Command{
		Use:   "purchase <product-url>",
		Short: "Runs one purchase attempt against a product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			req, err := buildRequest(args[0], f)
			if err != nil {
				return err
			}
			if f.format != outputFormatJSON && f.format != outputFormatText {
				return fmt.Errorf("unsupported output format %q (use %s or %s)", f.format, outputFormatJSON, outputFormatText)
			}

			cfg := st.cfg
			if f.dryRun {
				cfg.SetFlowDryRun(true)
			}
			if f.headful {
				cfg.SetBrowserHeadless(false)
			}
			if f.timeout > 0 {
				cfg.EngineCfg.AwaitTimeout = f.timeout
				if cfg.EngineCfg.AttemptTimeout > f.timeout {
					cfg.EngineCfg.AttemptTimeout = f.timeout
				}
			}

			components, err := componentFactory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			res, err := runPurchase(ctx, components.Engine, req, logger)
			if err != nil {
				return err
			}
			if err := writeResult(cmd.OutOrStdout(), f.format, res); err != nil {
				return err
			}
			return attemptError(ctx, res)
		},
	}

	purchaseCmd.Flags().StringVarP(&f.user, "user", "u", "", "User identity whose stored payment method is used (required)")
	purchaseCmd.Flags().IntVarP(&f.quantity, "quantity", "q", 1, "Quantity to buy")
	purchaseCmd.Flags().StringArrayVarP(&f.options, "option", "o", nil, "Product option as name=value, e.g. --option size=M (repeatable)")
	purchaseCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Stop before the purchase-confirming action")
	purchaseCmd.Flags().BoolVar(&f.headful, "headful", false, "Show the browser window")
	purchaseCmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Maximum time to wait for the attempt (overrides engine.await_timeout)")
	purchaseCmd.Flags().StringVarP(&f.format, "format", "f", outputFormatJSON, "Output format: json or text")
	_ = purchaseCmd.MarkFlagRequired("user")
	return purchaseCmd
}

func buildRequest(productURL string, f *purchaseFlags) (engine.Request, error) {
	opts := schemas.PurchaseOptions{Quantity: f.quantity}
	for _, raw := range f.options {
		name, value, ok := strings.Cut(raw, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return engine.Request{}, fmt.Errorf("invalid --option %q, expected name=value", raw)
		}
		if opts.Variants == nil {
			opts.Variants = make(map[string]string)
		}
		opts.Variants[name] = value
	}
	return engine.Request{
		ProductURL:   strings.TrimSpace(productURL),
		UserIdentity: strings.TrimSpace(f.user),
		Options:      opts,
	}, nil
}

// runPurchase submits the request and waits for the result. If ctx ends first
// the attempt is cancelled and its final state is collected.
func runPurchase(ctx context.Context, p purchaser, req engine.Request, logger *zap.Logger) (engine.Result, error) {
	res, err := p.Purchase(ctx, req)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, engine.ErrAwaitTimeout):
		logger.Warn("Attempt still running after the wait budget; cancelling.", zap.String("attempt_id", res.AttemptID))
	case ctx.Err() != nil && res.AttemptID != "":
		logger.Warn("Interrupted; cancelling attempt.", zap.String("attempt_id", res.AttemptID))
	default:
		return res, err
	}

	if cerr := p.Cancel(res.AttemptID); cerr != nil {
		return res, errors.Join(err, cerr)
	}
	final, werr := p.Await(context.Background(), res.AttemptID, cancelGracePeriod)
	if werr != nil {
		return res, errors.Join(err, werr)
	}
	final.TimedOut = res.TimedOut
	return final, nil
}

// attemptError maps a finished attempt to the command's error. An attempt
// aborted because the command was interrupted reports the interruption.
func attemptError(ctx context.Context, res engine.Result) error {
	switch {
	case res.State == schemas.StateCompleted:
		return nil
	case res.State == schemas.StateAborted && ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s (%s)", ErrAttemptNotCompleted, res.State, res.TerminalReason)
	}
}

func writeResult(w io.Writer, format string, res engine.Result) error {
	if format == outputFormatText {
		_, err := fmt.Fprintf(w, "attempt %s: %s", res.AttemptID, res.State)
		if err == nil && res.TerminalReason != "" {
			_, err = fmt.Fprintf(w, " (%s)", res.TerminalReason)
		}
		if err == nil && res.OrderReference != "" {
			_, err = fmt.Fprintf(w, " order %s", res.OrderReference)
		}
		if err == nil {
			_, err = fmt.Fprintln(w)
		}
		return err
	}
	return writeJSON(w, res)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
