package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Session is one browser tab, scoped to a single purchase attempt.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.Session = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Session {
	id := uuid.New().String()
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger.With(zap.String("session_id", id)),
		onClose: onClose,
	}
}

// initialize opens the tab and applies per-session settings.
func (s *Session) initialize(ctx context.Context) error {
	tasks := chromedp.Tasks{network.Enable()}
	if len(s.cfg.Headers) > 0 {
		headers := make(network.Headers, len(s.cfg.Headers))
		for k, v := range s.cfg.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to initialize browser tab: %w", err)
	}
	return nil
}

func (s *Session) ID() string {
	return s.id
}

// Navigate loads url and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()
	navCtx, navCancel := context.WithTimeout(opCtx, s.navigationTimeout())
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && opCtx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", s.navigationTimeout(), err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return s.stabilize(opCtx)
}

// Fetch captures the current page and builds a snapshot of it.
func (s *Session) Fetch(ctx context.Context) (*schemas.PageSnapshot, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	var location, markup string
	fetchCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()
	err := s.runActions(fetchCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	return BuildSnapshot(location, markup, time.Now())
}

// Click clicks the element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Attempting to click element", zap.String("selector", selector))
	err := s.interact(ctx, selector, func(*cdp.Node) chromedp.Action {
		return chromedp.Tasks{
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.WaitVisible(selector, chromedp.ByQuery),
			chromedp.Click(selector, chromedp.ByQuery),
		}
	})
	if err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Fill sets the value of a form field. Selects get their value set directly,
// checkboxes are toggled to match a truthy value, everything else is typed.
// The value never appears in logs or returned errors.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.logger.Debug("Attempting to fill element", zap.String("selector", selector), zap.Int("value_length", len(value)))
	err := s.interact(ctx, selector, func(node *cdp.Node) chromedp.Action {
		switch strings.ToLower(node.LocalName) {
		case "select":
			return chromedp.SetValue(selector, value, chromedp.ByQuery)
		case "input":
			if t := strings.ToLower(node.AttributeValue("type")); t == "checkbox" || t == "radio" {
				return s.setChecked(selector, isTruthy(value))
			}
		}
		return chromedp.Tasks{
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.WaitVisible(selector, chromedp.ByQuery),
			chromedp.SetValue(selector, "", chromedp.ByQuery),
			chromedp.SendKeys(selector, value, chromedp.ByQuery),
		}
	})
	if err != nil {
		return fmt.Errorf("fill action failed for selector '%s': %w", selector, scrub(err, value))
	}
	return nil
}

// Submit submits the form matching selector, or the form enclosing it.
func (s *Session) Submit(ctx context.Context, selector string) error {
	s.logger.Debug("Attempting to submit form", zap.String("selector", selector))
	err := s.interact(ctx, selector, func(*cdp.Node) chromedp.Action {
		return chromedp.Submit(selector, chromedp.ByQuery)
	})
	if err != nil {
		return fmt.Errorf("submit action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	var err error
	if s.ctx.Err() == nil {
		closeCtx, cancel := context.WithTimeout(Detach(s.ctx), 5*time.Second)
		err = chromedp.Cancel(closeCtx)
		cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// interact resolves selector, builds the action for the matched node, runs it
// and lets the page settle.
func (s *Session) interact(ctx context.Context, selector string, build func(*cdp.Node) chromedp.Action) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	var nodes []*cdp.Node
	if err := s.runActions(opCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return &schemas.ExecutionFailure{
			Kind:   schemas.ExecElementVanished,
			Target: selector,
			Err:    fmt.Errorf("no element found for selector %q", selector),
		}
	}
	if err := s.runActions(opCtx, build(nodes[0])); err != nil {
		return err
	}
	runCtx, runCancel := CombineContext(s.ctx, ctx)
	defer runCancel()
	return s.stabilize(runCtx)
}

func (s *Session) setChecked(selector string, want bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var checked bool
		if err := chromedp.JavascriptAttribute(selector, "checked", &checked, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		if checked == want {
			return nil
		}
		return chromedp.Click(selector, chromedp.ByQuery).Do(ctx)
	})
}

// stabilize waits for the document to be ready and then for the configured
// quiet period.
func (s *Session) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()
	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Page stabilization failed (non-critical).", zap.Error(err))
		return nil
	}
	if wait := s.cfg.PostActionWait; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// checkAlive reports a closed or dead tab as an expired session.
func (s *Session) checkAlive() error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed || s.ctx.Err() != nil {
		return &schemas.ExecutionFailure{Kind: schemas.ExecSessionExpired, Err: errors.New("browser session is closed")}
	}
	return nil
}

// runActions executes chromedp actions bound to both the tab lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.ctx.Err() != nil {
			return &schemas.ExecutionFailure{Kind: schemas.ExecSessionExpired, Err: err}
		}
		return err
	}
	return nil
}

func (s *Session) navigationTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return 15 * time.Second
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "checked":
		return true
	}
	return false
}

// scrub removes value from an error message so filled data cannot leak
// through error reporting.
func scrub(err error, value string) error {
	if value == "" || !strings.Contains(err.Error(), value) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), value, "[REDACTED]"))
}
