package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// -- Test Setup Helpers --

// setupGeminiClient points a GeminiClient at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, config.LLMConfig) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL + "/"

	client, err := NewGeminiClient(context.Background(), cfg, cfg.FastModel, nil, zaptest.NewLogger(t))
	require.NoError(t, err, "NewGeminiClient initialization failed")
	return client, cfg
}

func writeCandidate(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"role":  "model",
					"parts": []interface{}{map[string]interface{}{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]interface{}{"promptTokenCount": 12, "totalTokenCount": 20},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_Failure(t *testing.T) {
	logger := zap.NewNop()

	t.Run("missing api key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		_, err := NewGeminiClient(context.Background(), cfg, cfg.FastModel, nil, logger)
		assert.EqualError(t, err, "gemini API key is required")
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := getValidLLMConfig()
		_, err := NewGeminiClient(context.Background(), cfg, "", nil, logger)
		assert.EqualError(t, err, "gemini model name is required")
	})
}

func TestGenerationConfig(t *testing.T) {
	client, cfg := setupGeminiClient(t, nil)

	t.Run("standard", func(t *testing.T) {
		gc := client.generationConfig(schemas.GenerationRequest{
			SystemPrompt: "be brief",
			UserPrompt:   "hello",
		})
		require.NotNil(t, gc.Temperature)
		assert.Equal(t, cfg.Temperature, *gc.Temperature, "falls back to configured temperature")
		assert.Equal(t, cfg.MaxTokens, gc.MaxOutputTokens)
		require.NotNil(t, gc.TopP)
		assert.Equal(t, cfg.TopP, *gc.TopP)
		require.NotNil(t, gc.SystemInstruction)
		assert.Equal(t, "be brief", gc.SystemInstruction.Parts[0].Text)
		assert.Empty(t, gc.ResponseMIMEType)
	})

	t.Run("force json", func(t *testing.T) {
		gc := client.generationConfig(schemas.GenerationRequest{
			Options: schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
		})
		assert.Equal(t, "application/json", gc.ResponseMIMEType)
		assert.InDelta(t, 0.2, float64(*gc.Temperature), 1e-6)
		assert.Nil(t, gc.SystemInstruction)
	})
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	var calls int32
	var gotBody string
	client, cfg := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.Contains(r.URL.Path, cfg.FastModel+":generateContent"), "unexpected path %s", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		writeCandidate(w, `{"action_kind":"click","target_element_ref":"#buy"}`)
	})

	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "system",
		UserPrompt:   "the page",
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action_kind":"click","target_element_ref":"#buy"}`, resp)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, gotBody, "the page")
	assert.Contains(t, gotBody, "application/json")
}

func TestGenerate_Failure_EmptyResponse(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func writeAPIError(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"upstream says no","status":"%s"}}`, code, status)
}

func TestGenerate_Failure_APIError(t *testing.T) {
	var calls int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT")
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini generate failed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var calls int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE")
			return
		}
		writeCandidate(w, `{"action_kind":"none"}`)
	})

	text, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"action_kind":"none"}`, text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerate_RetriesAreBounded(t *testing.T) {
	var calls int32
	client, cfg := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeAPIError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED")
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini generate failed")
	assert.Equal(t, int32(cfg.MaxRetries+1), atomic.LoadInt32(&calls))
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(fmt.Errorf("wrap: %w", genai.APIError{Code: http.StatusTooManyRequests})))
	assert.True(t, transient(genai.APIError{Code: http.StatusBadGateway}))
	assert.False(t, transient(genai.APIError{Code: http.StatusForbidden}))
	assert.True(t, transient(errors.New("connection reset by peer")))
}

func TestGenerate_ContextCancellation(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writeCandidate(w, "late")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini generate failed")
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestNewLimiter(t *testing.T) {
	unlimited := NewLimiter(0)
	assert.True(t, unlimited.Allow())
	assert.True(t, unlimited.Allow())

	limited := NewLimiter(time.Hour)
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow(), "second call inside the interval must wait")
}
