package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Classify maps an error from a browser session onto an ExecutionFailure.
// Cancellation of ctx wins over everything else, and errors that already
// carry a classification pass through unchanged.
func Classify(ctx context.Context, err error, target string) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ef *schemas.ExecutionFailure
	if errors.As(err, &ef) {
		return err
	}
	if errors.Is(err, schemas.ErrCredentialsUnavailable) {
		return err
	}
	return &schemas.ExecutionFailure{Kind: classifyKind(ctx, err), Target: target, Err: err}
}

// classifyKind uses message heuristics; chromedp reports most failures as
// plain strings.
func classifyKind(ctx context.Context, err error) schemas.ExecutionFailureKind {
	var ef *schemas.ExecutionFailure
	if errors.As(err, &ef) {
		return ef.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "no element found", "could not find node", "node not found", "not attached", "no node with given id"):
		return schemas.ExecElementVanished
	case containsAny(msg, "target closed", "session closed", "invalid context", "browser closed", "websocket: close"):
		return schemas.ExecSessionExpired
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// The session's own context ended while the caller's is still alive.
		return schemas.ExecSessionExpired
	case errors.Is(err, context.DeadlineExceeded), containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return schemas.ExecNavigationTimeout
	default:
		return schemas.ExecNetworkError
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
