package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/service"
)

type attemptReader interface {
	GetAttempt(ctx context.Context, attemptID string) (*schemas.AttemptRecord, error)
}

// openAttemptReader connects to the archive. Tests replace it.
var openAttemptReader = func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (attemptReader, func(), error) {
	st, cleanup, err := service.InitializeStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, errors.New("the status command requires a database (hint: check CARTPILOT_DATABASE_URL)")
	}
	return st, cleanup, nil
}

func newStatusCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "status <attempt-id>",
		Short: "Shows an archived purchase attempt and its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			reader, cleanup, err := openAttemptReader(ctx, st.cfg.Database(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := reader.GetAttempt(ctx, args[0])
			if err != nil {
				if errors.Is(err, schemas.ErrNotFound) {
					return fmt.Errorf("no archived attempt with ID %s", args[0])
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}
