// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/analyzer"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/credentials"
	"github.com/xkilldash9x/cartpilot/internal/executor"
	"github.com/xkilldash9x/cartpilot/internal/flow"
	"github.com/xkilldash9x/cartpilot/internal/llmclient"
	"github.com/xkilldash9x/cartpilot/internal/store"
	"github.com/xkilldash9x/cartpilot/internal/validator"
)

const (
	CredentialSourceDatabase = "database"
	CredentialSourceStatic   = "static"
)

// InitializeLLMClient creates the tiered LLM client.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. The structure analyzer cannot run.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeStore connects to PostgreSQL and applies the schema. An empty URL
// returns a nil store and no error.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, func(), error) {
	if cfg.URL == "" {
		logger.Info("No database configured; attempts will not be archived.")
		return nil, func() {}, nil
	}
	st, cleanup, err := store.Connect(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Debug("Store initialized.")
	return st, cleanup, nil
}

// InitializeCredentials selects the credential provider. The database source
// needs a store.
func InitializeCredentials(cfg config.CredentialsConfig, st *store.Store, logger *zap.Logger) (schemas.CredentialProvider, error) {
	switch strings.ToLower(cfg.Source) {
	case CredentialSourceDatabase, "":
		if st == nil {
			return nil, fmt.Errorf("credential source %q requires a database (hint: check CARTPILOT_DATABASE_URL)", CredentialSourceDatabase)
		}
		return st, nil
	case CredentialSourceStatic:
		if len(cfg.Static) == 0 {
			logger.Warn("Static credential source has no users configured; payment steps will fail.")
		}
		return credentials.NewStatic(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported credential source: %s", cfg.Source)
	}
}

// InitializeProfiles returns the buyer profile source. It follows the
// credential source; the store and the static provider serve both.
func InitializeProfiles(creds schemas.CredentialProvider, logger *zap.Logger) schemas.ProfileProvider {
	if p, ok := creds.(schemas.ProfileProvider); ok && p != nil {
		return p
	}
	logger.Warn("Credential source serves no buyer profiles; contact and address fields are left to the analyzer.")
	return nil
}

// NewController wires the analyzer, validator and executor into a flow
// controller.
func NewController(cfg config.Interface, llm schemas.LLMClient, creds schemas.CredentialProvider, profiles schemas.ProfileProvider, logger *zap.Logger) (*flow.Controller, error) {
	ac := cfg.Analyzer()
	an, err := analyzer.New(llm, analyzer.Options{
		Timeout:       ac.Timeout,
		MaxElements:   ac.MaxElements,
		MaxTextChars:  ac.MaxTextChars,
		HistoryWindow: ac.HistoryWindow,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create structure analyzer: %w", err)
	}

	ec := cfg.Executor()
	va := validator.New(validator.Options{ConfirmKeywords: ec.ConfirmKeywords}, logger)
	ex := executor.New(creds, profiles, logger)

	fc := cfg.Flow()
	markers, err := flow.NewMarkers(fc)
	if err != nil {
		return nil, fmt.Errorf("invalid page markers: %w", err)
	}

	return flow.New(an, va, ex, markers, flow.Options{
		MaxRetries:   fc.MaxRetries,
		MaxSteps:     fc.MaxSteps,
		DryRun:       fc.DryRun,
		RetryBackoff: ec.RetryBackoff,
		MaxBackoff:   ec.MaxBackoff,
	}, logger)
}
