// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	LLM() LLMConfig
	Analyzer() AnalyzerConfig
	Flow() FlowConfig
	Executor() ExecutorConfig
	Engine() EngineConfig
	Credentials() CredentialsConfig

	SetBrowserHeadless(bool)
	SetFlowDryRun(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	AnalyzerCfg    AnalyzerConfig    `mapstructure:"analyzer" yaml:"analyzer"`
	FlowCfg        FlowConfig        `mapstructure:"flow" yaml:"flow"`
	ExecutorCfg    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	CredentialsCfg CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Analyzer() AnalyzerConfig       { return c.AnalyzerCfg }
func (c *Config) Flow() FlowConfig               { return c.FlowCfg }
func (c *Config) Executor() ExecutorConfig       { return c.ExecutorCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) Credentials() CredentialsConfig { return c.CredentialsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetFlowDryRun(b bool)      { c.FlowCfg.DryRun = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// archival and the database credential provider.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless          bool              `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir       string            `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent         string            `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string          `mapstructure:"args" yaml:"args"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostActionWait    time.Duration     `mapstructure:"post_action_wait" yaml:"post_action_wait"`
}

// LLMConfig configures the inference collaborator.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	APIKey        string        `mapstructure:"api_key" yaml:"-"`
	FastModel     string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK          float32       `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int32         `mapstructure:"max_tokens" yaml:"max_tokens"`
	// MinInterval is the minimum spacing between two calls to the provider.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	// MaxRetries is how many times a rate-limited or failed call is repeated.
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// ProviderGemini is the only supported LLM provider.
const ProviderGemini = "gemini"

// AnalyzerConfig tunes the structure analyzer.
type AnalyzerConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxElements  int           `mapstructure:"max_elements" yaml:"max_elements"`
	MaxTextChars int           `mapstructure:"max_text_chars" yaml:"max_text_chars"`
	// HistoryWindow is how many recent ledger entries are shown to the model.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
}

// FlowConfig holds the retry and termination policy of a purchase attempt.
type FlowConfig struct {
	MaxRetries          int      `mapstructure:"max_retries" yaml:"max_retries"`
	MaxSteps            int      `mapstructure:"max_steps" yaml:"max_steps"`
	DryRun              bool     `mapstructure:"dry_run" yaml:"dry_run"`
	ConfirmationMarkers []string `mapstructure:"confirmation_markers" yaml:"confirmation_markers"`
	ConfirmationURLs    []string `mapstructure:"confirmation_urls" yaml:"confirmation_urls"`
	OrderNumberPattern  string   `mapstructure:"order_number_pattern" yaml:"order_number_pattern"`
	PaymentErrorMarkers []string `mapstructure:"payment_error_markers" yaml:"payment_error_markers"`
}

// ExecutorConfig tunes the action executor.
type ExecutorConfig struct {
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	ConfirmKeywords []string      `mapstructure:"confirm_keywords" yaml:"confirm_keywords"`
}

// EngineConfig configures the attempt engine.
type EngineConfig struct {
	MaxConcurrentAttempts int           `mapstructure:"max_concurrent_attempts" yaml:"max_concurrent_attempts"`
	AttemptTimeout        time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	AwaitTimeout          time.Duration `mapstructure:"await_timeout" yaml:"await_timeout"`
}

// CredentialsConfig selects the credential provider.
type CredentialsConfig struct {
	// Source is "database" or "static".
	Source string `mapstructure:"source" yaml:"source"`
	// Static maps user identities to payment fields. Intended for local runs
	// against test cards only.
	Static map[string]map[string]string `mapstructure:"static" yaml:"-"`
	// Profiles maps user identities to contact and address fields for the
	// static source.
	Profiles map[string]map[string]string `mapstructure:"profiles" yaml:"-"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 500)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 10)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.post_action_wait", "1500ms")

	// -- LLM --
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.min_interval", "1s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", "1s")

	// -- Analyzer --
	v.SetDefault("analyzer.timeout", "30s")
	v.SetDefault("analyzer.max_elements", 150)
	v.SetDefault("analyzer.max_text_chars", 4000)
	v.SetDefault("analyzer.history_window", 10)

	// -- Flow --
	v.SetDefault("flow.max_retries", 3)
	v.SetDefault("flow.max_steps", 25)
	v.SetDefault("flow.dry_run", false)

	// -- Executor --
	v.SetDefault("executor.retry_backoff", "500ms")
	v.SetDefault("executor.max_backoff", "5s")

	// -- Engine --
	v.SetDefault("engine.max_concurrent_attempts", 4)
	v.SetDefault("engine.attempt_timeout", "15m")
	v.SetDefault("engine.await_timeout", "20m")

	// -- Credentials --
	v.SetDefault("credentials.source", "database")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "GEMINI_API_KEY", "CARTPILOT_LLM_API_KEY")
	_ = v.BindEnv("database.url", "DATABASE_URL", "CARTPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	if c.BrowserCfg.UserDataDir, err = homedir.Expand(c.BrowserCfg.UserDataDir); err != nil {
		return fmt.Errorf("failed to expand browser.user_data_dir: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.FlowCfg.MaxRetries <= 0 {
		return fmt.Errorf("flow.max_retries must be a positive integer")
	}
	if c.FlowCfg.MaxSteps <= 0 {
		return fmt.Errorf("flow.max_steps must be a positive integer")
	}
	if c.EngineCfg.MaxConcurrentAttempts <= 0 {
		return fmt.Errorf("engine.max_concurrent_attempts must be a positive integer")
	}
	if c.AnalyzerCfg.Timeout <= 0 {
		return fmt.Errorf("analyzer.timeout must be a positive duration")
	}
	if c.LLMCfg.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider %q", c.LLMCfg.Provider)
	}
	switch c.CredentialsCfg.Source {
	case "database":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when credentials.source is database")
		}
	case "static":
	default:
		return fmt.Errorf("credentials.source must be one of [database static], got %q", c.CredentialsCfg.Source)
	}
	return nil
}
