// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	args := m.Called()
	return args.Get(0).(config.LLMConfig)
}

func (m *MockConfig) Analyzer() config.AnalyzerConfig {
	args := m.Called()
	return args.Get(0).(config.AnalyzerConfig)
}

func (m *MockConfig) Flow() config.FlowConfig {
	args := m.Called()
	return args.Get(0).(config.FlowConfig)
}

func (m *MockConfig) Executor() config.ExecutorConfig {
	args := m.Called()
	return args.Get(0).(config.ExecutorConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Credentials() config.CredentialsConfig {
	args := m.Called()
	return args.Get(0).(config.CredentialsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetFlowDryRun(b bool) {
	m.Called(b)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*MockLLMClient)(nil)

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Session Mock --

// MockSession implements schemas.Session for testing. Every value passed to
// Fill is also kept in Filled so tests can assert on injected data without
// going through the mock's call records.
type MockSession struct {
	mock.Mock

	mu     sync.Mutex
	Filled map[string]string
}

var _ schemas.Session = (*MockSession)(nil)

func NewMockSession() *MockSession {
	return &MockSession{Filled: make(map[string]string)}
}

func (m *MockSession) ID() string { return m.Called().String(0) }

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Fetch(ctx context.Context) (*schemas.PageSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.PageSnapshot), args.Error(1)
}

func (m *MockSession) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockSession) Fill(ctx context.Context, selector, value string) error {
	m.mu.Lock()
	if m.Filled == nil {
		m.Filled = make(map[string]string)
	}
	m.Filled[selector] = value
	m.mu.Unlock()
	return m.Called(ctx, selector, value).Error(0)
}

func (m *MockSession) Submit(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// FilledValue returns the last value filled into selector.
func (m *MockSession) FilledValue(selector string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Filled[selector]
	return v, ok
}

// -- Credential Provider Mock --

// MockCredentialProvider mocks schemas.CredentialProvider.
type MockCredentialProvider struct {
	mock.Mock
}

var _ schemas.CredentialProvider = (*MockCredentialProvider)(nil)

func (m *MockCredentialProvider) GetPaymentField(ctx context.Context, userIdentity string, field schemas.PaymentFieldKind) (string, error) {
	args := m.Called(ctx, userIdentity, field)
	return args.String(0), args.Error(1)
}

// MockProfileProvider mocks schemas.ProfileProvider.
type MockProfileProvider struct {
	mock.Mock
}

var _ schemas.ProfileProvider = (*MockProfileProvider)(nil)

func (m *MockProfileProvider) GetProfileField(ctx context.Context, userIdentity string, field schemas.ProfileFieldKind) (string, error) {
	args := m.Called(ctx, userIdentity, field)
	return args.String(0), args.Error(1)
}
