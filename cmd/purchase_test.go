// File: cmd/purchase_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/engine"
)

type mockPurchaser struct {
	mock.Mock
}

func (m *mockPurchaser) Purchase(ctx context.Context, req engine.Request) (engine.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.Result), args.Error(1)
}

func (m *mockPurchaser) Await(ctx context.Context, attemptID string, maxWait time.Duration) (engine.Result, error) {
	args := m.Called(ctx, attemptID, maxWait)
	return args.Get(0).(engine.Result), args.Error(1)
}

func (m *mockPurchaser) Cancel(attemptID string) error {
	return m.Called(attemptID).Error(0)
}

func TestBuildRequest(t *testing.T) {
	t.Run("options become variants", func(t *testing.T) {
		req, err := buildRequest(" https://shop.example.com/p/1 ", &purchaseFlags{
			user:     "buyer",
			quantity: 2,
			options:  []string{"size=M", " color = blue "},
		})
		require.NoError(t, err)
		assert.Equal(t, engine.Request{
			ProductURL:   "https://shop.example.com/p/1",
			UserIdentity: "buyer",
			Options: schemas.PurchaseOptions{
				Quantity: 2,
				Variants: map[string]string{"size": "M", "color": "blue"},
			},
		}, req)
	})

	t.Run("no options", func(t *testing.T) {
		req, err := buildRequest("https://shop.example.com/p/1", &purchaseFlags{user: "buyer", quantity: 1})
		require.NoError(t, err)
		assert.Nil(t, req.Options.Variants)
	})

	for _, bad := range []string{"size", "=M", "size="} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := buildRequest("https://shop.example.com/p/1", &purchaseFlags{user: "buyer", options: []string{bad}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "expected name=value")
		})
	}
}

func TestRunPurchase(t *testing.T) {
	req := engine.Request{ProductURL: "https://shop.example.com/p/1", UserIdentity: "buyer"}
	logger := zap.NewNop()

	t.Run("completes", func(t *testing.T) {
		p := new(mockPurchaser)
		want := engine.Result{AttemptID: "a1", State: schemas.StateCompleted, TerminalReason: schemas.ReasonOrderConfirmed, OrderReference: "A1234"}
		p.On("Purchase", mock.Anything, req).Return(want, nil)

		got, err := runPurchase(context.Background(), p, req, logger)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		p.AssertNotCalled(t, "Cancel", mock.Anything)
	})

	t.Run("rejected request", func(t *testing.T) {
		p := new(mockPurchaser)
		p.On("Purchase", mock.Anything, req).Return(engine.Result{}, errors.New("user identity is required"))

		_, err := runPurchase(context.Background(), p, req, logger)
		assert.EqualError(t, err, "user identity is required")
		p.AssertNotCalled(t, "Cancel", mock.Anything)
	})

	t.Run("interrupted attempt is cancelled and collected", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := new(mockPurchaser)
		p.On("Purchase", ctx, req).Return(engine.Result{AttemptID: "a2", State: schemas.StateExecuting}, context.Canceled)
		p.On("Cancel", "a2").Return(nil).Once()
		final := engine.Result{AttemptID: "a2", State: schemas.StateAborted, TerminalReason: schemas.ReasonCancelled}
		p.On("Await", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "a2", cancelGracePeriod).Return(final, nil)

		got, err := runPurchase(ctx, p, req, logger)
		require.NoError(t, err)
		assert.Equal(t, final, got)
		p.AssertExpectations(t)
	})

	t.Run("await budget exceeded", func(t *testing.T) {
		p := new(mockPurchaser)
		p.On("Purchase", mock.Anything, req).Return(engine.Result{AttemptID: "a3", State: schemas.StateAnalyzing, TimedOut: true}, engine.ErrAwaitTimeout)
		p.On("Cancel", "a3").Return(nil)
		p.On("Await", mock.Anything, "a3", cancelGracePeriod).Return(engine.Result{AttemptID: "a3", State: schemas.StateAborted, TerminalReason: schemas.ReasonCancelled}, nil)

		got, err := runPurchase(context.Background(), p, req, logger)
		require.NoError(t, err)
		assert.Equal(t, schemas.StateAborted, got.State)
		assert.True(t, got.TimedOut)
	})

	t.Run("cancel fails", func(t *testing.T) {
		p := new(mockPurchaser)
		p.On("Purchase", mock.Anything, req).Return(engine.Result{AttemptID: "a4"}, engine.ErrAwaitTimeout)
		p.On("Cancel", "a4").Return(schemas.ErrNotFound)

		_, err := runPurchase(context.Background(), p, req, logger)
		require.Error(t, err)
		assert.ErrorIs(t, err, engine.ErrAwaitTimeout)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestAttemptError(t *testing.T) {
	live := context.Background()
	interrupted, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("completed", func(t *testing.T) {
		assert.NoError(t, attemptError(live, engine.Result{State: schemas.StateCompleted}))
	})

	t.Run("aborted by interrupt reports cancellation", func(t *testing.T) {
		err := attemptError(interrupted, engine.Result{State: schemas.StateAborted, TerminalReason: schemas.ReasonCancelled})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrAttemptNotCompleted)
	})

	t.Run("aborted without interrupt", func(t *testing.T) {
		err := attemptError(live, engine.Result{State: schemas.StateAborted, TerminalReason: schemas.ReasonCancelled})
		assert.ErrorIs(t, err, ErrAttemptNotCompleted)
	})

	t.Run("failed while interrupted stays a failure", func(t *testing.T) {
		err := attemptError(interrupted, engine.Result{State: schemas.StateFailed, TerminalReason: schemas.ReasonPaymentDeclined})
		assert.ErrorIs(t, err, ErrAttemptNotCompleted)
		assert.Contains(t, err.Error(), "Failed (PaymentDeclined)")
	})
}

func TestWriteResult(t *testing.T) {
	res := engine.Result{AttemptID: "a1", State: schemas.StateCompleted, TerminalReason: schemas.ReasonOrderConfirmed, OrderReference: "A1234"}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResult(&buf, outputFormatJSON, res))
		assert.Contains(t, buf.String(), `"attempt_id": "a1"`)
		assert.Contains(t, buf.String(), `"order_reference": "A1234"`)
		assert.NotContains(t, buf.String(), "timed_out")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResult(&buf, outputFormatText, res))
		assert.Equal(t, "attempt a1: Completed (OrderConfirmed) order A1234\n", buf.String())
	})
}

func TestPurchaseCmd(t *testing.T) {
	cfgPath := writeConfig(t, staticConfigYAML)

	t.Run("user is required", func(t *testing.T) {
		_, err := runCommand(t, "purchase", "https://shop.example.com/p/1", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `required flag(s) "user" not set`)
	})

	t.Run("exactly one URL", func(t *testing.T) {
		_, err := runCommand(t, "purchase", "--user", "buyer", "--config", cfgPath)
		require.Error(t, err)
	})

	t.Run("invalid option", func(t *testing.T) {
		f := &fakeFactory{}
		withFactory(t, f)
		_, err := runCommand(t, "purchase", "https://shop.example.com/p/1", "--user", "buyer", "--option", "size", "--config", cfgPath)
		require.Error(t, err)
		assert.Nil(t, f.cfg, "components must not be created for an invalid request")
	})

	t.Run("invalid format", func(t *testing.T) {
		f := &fakeFactory{}
		withFactory(t, f)
		_, err := runCommand(t, "purchase", "https://shop.example.com/p/1", "--user", "buyer", "--format", "xml", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
		assert.Nil(t, f.cfg)
	})

	t.Run("flags reach the configuration", func(t *testing.T) {
		f := &fakeFactory{err: errors.New("browser not installed")}
		withFactory(t, f)
		_, err := runCommand(t, "purchase", "https://shop.example.com/p/1",
			"--user", "buyer", "--dry-run", "--headful", "--timeout", "2m", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize components: browser not installed")

		require.NotNil(t, f.cfg)
		assert.True(t, f.cfg.Flow().DryRun)
		assert.False(t, f.cfg.Browser().Headless)
		assert.Equal(t, 2*time.Minute, f.cfg.Engine().AwaitTimeout)
		assert.Equal(t, 2*time.Minute, f.cfg.Engine().AttemptTimeout)
	})

	t.Run("defaults", func(t *testing.T) {
		f := &fakeFactory{err: errors.New("stop")}
		withFactory(t, f)
		_, err := runCommand(t, "purchase", "https://shop.example.com/p/1", "--user", "buyer", "--config", cfgPath)
		require.Error(t, err)

		require.NotNil(t, f.cfg)
		assert.False(t, f.cfg.Flow().DryRun)
		assert.True(t, f.cfg.Browser().Headless)
		assert.Equal(t, config.NewDefaultConfig().Engine().AwaitTimeout, f.cfg.Engine().AwaitTimeout)
	})
}
