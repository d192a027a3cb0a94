// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/browser"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/engine"
)

const initFailureShutdownTimeout = 30 * time.Second

// ComponentFactory creates the components of a purchase run. Commands depend
// on this interface so they can be tested without a browser or a database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// purchase components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// Clean up whatever was created if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), initFailureShutdownTimeout)
			defer cancel()
			components.Shutdown(shutdownCtx)
		}
	}()

	// 1. Store (optional)
	st, cleanup, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Store = st
	components.dbCleanup = cleanup

	// 2. Credential provider
	creds, err := InitializeCredentials(cfg.Credentials(), st, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	logger.Debug("Credential provider initialized.", zap.String("source", cfg.Credentials().Source))

	// 3. LLM client
	llm, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.llm = llm

	// 4. Flow controller
	profiles := InitializeProfiles(creds, logger)
	ctrl, err := NewController(cfg, llm, creds, profiles, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	logger.Debug("Flow controller initialized.")

	// 5. Browser manager. The browser itself starts with the first session.
	manager := browser.NewManager(cfg.Browser(), logger)
	components.browser = manager

	// 6. Engine
	var archiver engine.Archiver
	if st != nil {
		archiver = st
	}
	eng, err := engine.New(cfg.Engine(), ctrl, manager, archiver, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng
	components.engine = eng
	logger.Debug("Engine initialized.")

	logger.Info("All components initialized successfully.")
	return components, nil
}
