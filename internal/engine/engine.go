// Package engine accepts purchase requests and runs each one as an attempt on
// its own goroutine, bounded by a semaphore.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/flow"
)

var (
	// ErrAwaitTimeout is returned by Await when the attempt is still running
	// after the wait budget.
	ErrAwaitTimeout = errors.New("timed out waiting for attempt")
	// ErrEngineClosed is returned by Submit after Shutdown.
	ErrEngineClosed = errors.New("engine is shut down")
)

const (
	archiveTimeout      = 30 * time.Second
	sessionCloseTimeout = 10 * time.Second
)

// -- Interfaces for Dependency Inversion --

// Runner drives a single attempt to a terminal state.
type Runner interface {
	Run(ctx context.Context, at *flow.Attempt, session schemas.Session) schemas.AttemptRecord
	Abandon(at *flow.Attempt, reason schemas.TerminalReason, cause error) schemas.AttemptRecord
}

// SessionFactory opens one browser session per attempt.
type SessionFactory interface {
	NewSession(ctx context.Context) (schemas.Session, error)
}

// Archiver persists finished attempts.
type Archiver interface {
	ArchiveAttempt(ctx context.Context, rec schemas.AttemptRecord) error
}

// Request is a purchase request.
type Request struct {
	ProductURL   string
	UserIdentity string
	Options      schemas.PurchaseOptions
}

// Result is what a caller learns about an attempt.
type Result struct {
	AttemptID      string                 `json:"attempt_id"`
	State          schemas.AttemptState   `json:"state"`
	TerminalReason schemas.TerminalReason `json:"terminal_reason,omitempty"`
	OrderReference string                 `json:"order_reference,omitempty"`
	TimedOut       bool                   `json:"timed_out,omitempty"`
}

type tracked struct {
	attempt *flow.Attempt
	cancel  context.CancelCauseFunc
	done    chan struct{}
	// record is the final record; it is written before done is closed.
	record schemas.AttemptRecord
}

// snapshot returns the final record once the attempt finished, or the live
// state otherwise.
func (t *tracked) snapshot() schemas.AttemptRecord {
	select {
	case <-t.done:
		return t.record
	default:
		return t.attempt.Record()
	}
}

// Engine manages running attempts.
type Engine struct {
	cfg      config.EngineConfig
	runner   Runner
	sessions SessionFactory
	archiver Archiver
	logger   *zap.Logger
	sem      *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	mu       sync.RWMutex
	attempts map[string]*tracked
	closed   bool
}

// New creates an Engine. archiver may be nil.
func New(cfg config.EngineConfig, runner Runner, sessions SessionFactory, archiver Archiver, logger *zap.Logger) (*Engine, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if sessions == nil {
		return nil, errors.New("session factory cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MaxConcurrentAttempts <= 0 {
		cfg.MaxConcurrentAttempts = 4
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Minute
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 20 * time.Minute
	}

	// Attempts outlive the request that submitted them.
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Engine{
		cfg:        cfg,
		runner:     runner,
		sessions:   sessions,
		archiver:   archiver,
		logger:     logger.With(zap.String("component", "engine")),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentAttempts)),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		attempts:   make(map[string]*tracked),
	}, nil
}

// Submit starts an attempt and returns its ID without waiting for it.
func (e *Engine) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}

	id := uuid.NewString()
	attemptCtx, cancel := context.WithCancelCause(e.baseCtx)
	t := &tracked{
		attempt: flow.NewAttempt(id, req.UserIdentity, req.ProductURL, req.Options),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel(ErrEngineClosed)
		return "", ErrEngineClosed
	}
	e.attempts[id] = t
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("Purchase attempt submitted.",
		zap.String("attempt_id", id),
		zap.String("product_url", req.ProductURL),
		zap.String("user", req.UserIdentity))
	go func() {
		defer e.wg.Done()
		defer close(t.done)
		defer t.cancel(nil)
		t.record = e.run(attemptCtx, t)
	}()
	return id, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.UserIdentity) == "" {
		return errors.New("user identity is required")
	}
	u, err := url.Parse(req.ProductURL)
	if err != nil {
		return fmt.Errorf("invalid product URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("product URL must be an absolute http(s) URL: %q", req.ProductURL)
	}
	if req.Options.Quantity < 0 {
		return fmt.Errorf("quantity must not be negative: %d", req.Options.Quantity)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, t *tracked) schemas.AttemptRecord {
	logger := e.logger.With(zap.String("attempt_id", t.attempt.ID()))

	var rec schemas.AttemptRecord
	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while queued; the runner records the abort.
		rec = e.runner.Run(ctx, t.attempt, nil)
		e.archive(rec, logger)
		return rec
	}
	defer e.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	session, err := e.sessions.NewSession(runCtx)
	switch {
	case err != nil && runCtx.Err() != nil:
		rec = e.runner.Run(runCtx, t.attempt, nil)
	case err != nil:
		logger.Error("Could not open browser session.", zap.Error(err))
		rec = e.runner.Abandon(t.attempt, schemas.ReasonSessionUnavailable, err)
	default:
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
			defer closeCancel()
			if err := session.Close(closeCtx); err != nil {
				logger.Warn("Failed to close browser session.", zap.Error(err))
			}
		}()
		rec = e.runner.Run(runCtx, t.attempt, session)
	}
	e.archive(rec, logger)
	logger.Info("Purchase attempt done.", zap.String("state", string(rec.State)), zap.String("reason", string(rec.TerminalReason)))
	return rec
}

// archive uses a background context so finished attempts are saved even
// during shutdown.
func (e *Engine) archive(rec schemas.AttemptRecord, logger *zap.Logger) {
	if e.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := e.archiver.ArchiveAttempt(ctx, rec); err != nil {
		logger.Error("Failed to archive attempt.", zap.Error(err))
		return
	}
	logger.Debug("Attempt archived.")
}

// Await blocks until the attempt finishes or maxWait passes. A non-positive
// maxWait uses the configured await timeout. On timeout the current state is
// returned with TimedOut set, together with ErrAwaitTimeout.
func (e *Engine) Await(ctx context.Context, attemptID string, maxWait time.Duration) (Result, error) {
	t, err := e.lookup(attemptID)
	if err != nil {
		return Result{AttemptID: attemptID}, err
	}
	if maxWait <= 0 {
		maxWait = e.cfg.AwaitTimeout
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-t.done:
		return resultOf(t.record), nil
	case <-timer.C:
		res := resultOf(t.snapshot())
		res.TimedOut = true
		return res, ErrAwaitTimeout
	case <-ctx.Done():
		return resultOf(t.snapshot()), ctx.Err()
	}
}

// Purchase submits the request and waits for the result.
func (e *Engine) Purchase(ctx context.Context, req Request) (Result, error) {
	id, err := e.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return e.Await(ctx, id, 0)
}

// Cancel aborts a running attempt. Cancelling a finished attempt is a no-op.
func (e *Engine) Cancel(attemptID string) error {
	t, err := e.lookup(attemptID)
	if err != nil {
		return err
	}
	e.logger.Info("Cancelling attempt.", zap.String("attempt_id", attemptID))
	t.cancel(schemas.ErrCancelled)
	return nil
}

// Status returns a snapshot of the attempt, running or finished.
func (e *Engine) Status(attemptID string) (schemas.AttemptRecord, error) {
	t, err := e.lookup(attemptID)
	if err != nil {
		return schemas.AttemptRecord{}, err
	}
	return t.snapshot(), nil
}

// Forget drops a finished attempt from memory. Running attempts are kept.
func (e *Engine) Forget(attemptID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.attempts[attemptID]
	if !ok {
		return false
	}
	select {
	case <-t.done:
	default:
		return false
	}
	delete(e.attempts, attemptID)
	return true
}

func (e *Engine) lookup(attemptID string) (*tracked, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, schemas.ErrNotFound)
	}
	return t, nil
}

// Shutdown stops accepting requests, aborts running attempts and waits for
// them to finish or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.logger.Info("Stopping engine... aborting running attempts.")
	e.baseCancel(ErrEngineClosed)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("Engine stopped gracefully.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown interrupted: %w", ctx.Err())
	}
}

func resultOf(rec schemas.AttemptRecord) Result {
	return Result{
		AttemptID:      rec.ID,
		State:          rec.State,
		TerminalReason: rec.TerminalReason,
		OrderReference: rec.OrderReference,
	}
}
