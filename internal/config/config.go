package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for visiontask.
type Config struct {
	Version       int                 `yaml:"version"`
	Task          TaskConfig          `yaml:"task"`
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	Browser       BrowserConfig       `yaml:"browser"`
	Dialog        DialogConfig        `yaml:"dialog"`
	Screenshots   ScreenshotConfig    `yaml:"screenshots"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TaskConfig selects what the agent is asked to do. Text wins over File;
// with neither set the built-in form task is used against URL.
type TaskConfig struct {
	URL  string `yaml:"url"`
	Text string `yaml:"text"`
	File string `yaml:"file"`
}

type AgentConfig struct {
	Model             string        `yaml:"model"`
	MaxSteps          int           `yaml:"max_steps"`
	MaxActionsPerStep int           `yaml:"max_actions_per_step"`
	MaxFailures       int           `yaml:"max_failures"`
	StepTimeout       time.Duration `yaml:"step_timeout"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	VisionDetail      string        `yaml:"vision_detail"` // low | high | auto
	DirectlyOpenURL   *bool         `yaml:"directly_open_url"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai | anthropic
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Concurrency int           `yaml:"concurrency"`
	History     int           `yaml:"history"`
	Pricing     PricingConfig `yaml:"pricing"`
}

// PricingConfig is the model price in USD per million tokens.
type PricingConfig struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type BrowserConfig struct {
	Backend           string        `yaml:"backend"` // playwright | cdp
	Headless          *bool         `yaml:"headless"`
	CDPURL            string        `yaml:"cdp_url"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	Timeout           time.Duration `yaml:"timeout"`
	SkipInstall       bool          `yaml:"skip_install"`
}

type DialogConfig struct {
	Rules       []PromptRule `yaml:"rules"`
	LogCapacity int          `yaml:"log_capacity"`
}

// PromptRule answers prompts whose message contains Marker.
type PromptRule struct {
	Marker string `yaml:"marker"`
	Answer string `yaml:"answer"`
}

// ScreenshotConfig sets the directory used when screenshots are saved. The
// AUTO_SAVE_SCREENSHOTS environment variable still decides whether they are.
type ScreenshotConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// MetricsConfig controls prometheus metrics. The run is short-lived, so
// metrics are written once to a node-exporter textfile when it ends.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Task.URL == "" {
		cfg.Task.URL = "http://localhost:8000/index2.html"
	}

	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "gpt-5"
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.MaxActionsPerStep == 0 {
		cfg.Agent.MaxActionsPerStep = 3
	}
	if cfg.Agent.MaxFailures == 0 {
		cfg.Agent.MaxFailures = 2
	}
	if cfg.Agent.StepTimeout == 0 {
		cfg.Agent.StepTimeout = 120 * time.Second
	}
	if cfg.Agent.LLMTimeout == 0 {
		cfg.Agent.LLMTimeout = 120 * time.Second
	}
	if cfg.Agent.VisionDetail == "" {
		cfg.Agent.VisionDetail = "low"
	}
	if cfg.Agent.DirectlyOpenURL == nil {
		cfg.Agent.DirectlyOpenURL = boolPtr(true)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.Concurrency == 0 {
		cfg.LLM.Concurrency = 4
	}

	if cfg.Browser.Backend == "" {
		cfg.Browser.Backend = "playwright"
	}
	if cfg.Browser.Headless == nil {
		cfg.Browser.Headless = boolPtr(false)
	}
	if cfg.Browser.ViewportWidth == 0 {
		cfg.Browser.ViewportWidth = 1280
	}
	if cfg.Browser.ViewportHeight == 0 {
		cfg.Browser.ViewportHeight = 800
	}
	if cfg.Browser.DeviceScaleFactor == 0 {
		cfg.Browser.DeviceScaleFactor = 1
	}
	if cfg.Browser.Timeout == 0 {
		cfg.Browser.Timeout = 30 * time.Second
	}

	if cfg.Dialog.LogCapacity == 0 {
		cfg.Dialog.LogCapacity = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "visiontask"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	var problems []string
	if c.Agent.MaxSteps < 0 || c.Agent.MaxActionsPerStep < 0 || c.Agent.MaxFailures < 0 {
		problems = append(problems, "agent limits must not be negative")
	}
	switch c.Agent.VisionDetail {
	case "low", "high", "auto":
	default:
		problems = append(problems, fmt.Sprintf("agent.vision_detail must be low, high or auto (got %q)", c.Agent.VisionDetail))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider must be openai or anthropic (got %q)", c.LLM.Provider))
	}
	if c.LLM.Pricing.Input < 0 || c.LLM.Pricing.Output < 0 {
		problems = append(problems, "llm.pricing must not be negative")
	}
	switch c.Browser.Backend {
	case "playwright", "cdp":
	default:
		problems = append(problems, fmt.Sprintf("browser.backend must be playwright or cdp (got %q)", c.Browser.Backend))
	}
	if c.Browser.DeviceScaleFactor < 0 {
		problems = append(problems, "browser.device_scale_factor must not be negative")
	}
	for i, r := range c.Dialog.Rules {
		if strings.TrimSpace(r.Marker) == "" {
			problems = append(problems, fmt.Sprintf("dialog.rules[%d].marker is required", i))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be json or text (got %q)", c.Logging.Format))
	}
	if c.Observability.Tracing.SamplingRate < 0 || c.Observability.Tracing.SamplingRate > 1 {
		problems = append(problems, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
