// File: cmd/status_test.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

type fakeReader struct {
	records map[string]*schemas.AttemptRecord
	err     error
}

func (f *fakeReader) GetAttempt(_ context.Context, id string) (*schemas.AttemptRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, schemas.ErrNotFound)
	}
	return rec, nil
}

func withReader(t *testing.T, r attemptReader, openErr error) *bool {
	t.Helper()
	cleaned := new(bool)
	original := openAttemptReader
	openAttemptReader = func(context.Context, config.DatabaseConfig, *zap.Logger) (attemptReader, func(), error) {
		if openErr != nil {
			return nil, nil, openErr
		}
		return r, func() { *cleaned = true }, nil
	}
	t.Cleanup(func() { openAttemptReader = original })
	return cleaned
}

func TestStatusCmd(t *testing.T) {
	cfgPath := writeConfig(t, staticConfigYAML)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{records: map[string]*schemas.AttemptRecord{
		"a1": {
			ID:             "a1",
			UserIdentity:   "buyer",
			ProductURL:     "https://shop.example.com/p/1",
			State:          schemas.StateCompleted,
			TerminalReason: schemas.ReasonOrderConfirmed,
			OrderReference: "A1234",
			StartedAt:      started,
			EndedAt:        started.Add(time.Minute),
			Ledger: []schemas.LedgerEntry{
				{StepIndex: 0, Fingerprint: "fp0", Outcome: schemas.OutcomeSuccess, Timestamp: started},
			},
		},
	}}

	t.Run("prints archived attempt", func(t *testing.T) {
		cleaned := withReader(t, reader, nil)
		out, err := runCommand(t, "status", "a1", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, `"attempt_id": "a1"`)
		assert.Contains(t, out, `"order_reference": "A1234"`)
		assert.Contains(t, out, `"content_fingerprint": "fp0"`)
		assert.True(t, *cleaned)
	})

	t.Run("unknown attempt", func(t *testing.T) {
		withReader(t, reader, nil)
		_, err := runCommand(t, "status", "missing", "--config", cfgPath)
		assert.EqualError(t, err, "no archived attempt with ID missing")
	})

	t.Run("query error", func(t *testing.T) {
		withReader(t, &fakeReader{err: errors.New("connection reset")}, nil)
		_, err := runCommand(t, "status", "a1", "--config", cfgPath)
		assert.EqualError(t, err, "connection reset")
	})

	t.Run("no database", func(t *testing.T) {
		// The real opener refuses to run without a database URL.
		t.Setenv("DATABASE_URL", "")
		t.Setenv("CARTPILOT_DATABASE_URL", "")
		_, err := runCommand(t, "status", "a1", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a database")
	})

	t.Run("open error", func(t *testing.T) {
		withReader(t, nil, errors.New("failed to connect to database"))
		_, err := runCommand(t, "status", "a1", "--config", cfgPath)
		assert.EqualError(t, err, "failed to connect to database")
	})
}
