// File: internal/service/components.go
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/engine"
	"github.com/xkilldash9x/cartpilot/internal/store"
)

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type closer interface {
	Close() error
}

// Components holds everything a purchase run needs and owns its lifecycle.
type Components struct {
	Engine *engine.Engine
	// Store is nil when no database is configured.
	Store *store.Store

	engine    shutdowner
	browser   shutdowner
	llm       closer
	dbCleanup func()
	logger    *zap.Logger
}

// Shutdown releases components in reverse order of creation: attempts first,
// then the browser, the LLM client and finally the database pool.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.engine != nil {
		if err := c.engine.Shutdown(ctx); err != nil {
			logger.Warn("Error during engine shutdown.", zap.Error(err))
		} else {
			logger.Debug("Engine stopped.")
		}
	}

	if c.browser != nil {
		if err := c.browser.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	if c.dbCleanup != nil {
		c.dbCleanup()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
