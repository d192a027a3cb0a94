package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

func TestNewClient_Success_RouterInitialization(t *testing.T) {
	cfg := getValidLLMConfig()
	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "factory should return an LLMRouter")

	fast := router.clients[schemas.TierFast].(*GeminiClient)
	powerful := router.clients[schemas.TierPowerful].(*GeminiClient)
	assert.Equal(t, cfg.FastModel, fast.model)
	assert.Equal(t, cfg.PowerfulModel, powerful.model)
	assert.Same(t, fast.limiter, powerful.limiter, "tiers share one rate limiter")
}

func TestNewClient_PowerfulFallsBackToFastModel(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.PowerfulModel = ""
	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)

	router := client.(*LLMRouter)
	assert.Equal(t, cfg.FastModel, router.clients[schemas.TierPowerful].(*GeminiClient).model)
}

func TestNewClient_Failure(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.LLMConfig)
		wantErr string
	}{
		{
			name:    "unsupported provider",
			mutate:  func(c *config.LLMConfig) { c.Provider = "openai" },
			wantErr: "unknown or unsupported LLM provider configured: 'openai'",
		},
		{
			name:    "missing provider",
			mutate:  func(c *config.LLMConfig) { c.Provider = "" },
			wantErr: "unknown or unsupported LLM provider configured: ''",
		},
		{
			name:    "missing api key",
			mutate:  func(c *config.LLMConfig) { c.APIKey = "" },
			wantErr: "failed to create fast tier client: gemini API key is required",
		},
		{
			name:    "missing fast model",
			mutate:  func(c *config.LLMConfig) { c.FastModel = "" },
			wantErr: "failed to create fast tier client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidLLMConfig()
			tt.mutate(&cfg)
			client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
			assert.Nil(t, client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
