// Package config provides configuration loading, validation, and management
// for the generation engine. It handles the project config file, the static
// model registry, and API key resolution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gamesmith/pkg/logx"
)

// Global config instance with mutex protection.
// projectDir is set once during LoadConfig and never changes - it defines where
// all engine files are stored relative to the project root.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string       // Immutable after LoadConfig - set once at startup
	logger     *logx.Logger // Package logger for config operations
	mu         sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
// This is exposed for other packages (like main) to use consistent logging.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	"claude-3-7-sonnet-20250219": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},

	// OpenAI GPT models
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gpt-5": {
		Provider:         ProviderOpenAI,
		InputCPM:         20.0,
		OutputCPM:        60.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},

	// OpenAI o-series models
	"o3": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o3-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},

	// Google Gemini models
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"gemini-3-pro-preview": {
		Provider:         ProviderGoogle,
		InputCPM:         2.0,
		OutputCPM:        12.0,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
// Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
// Returns error if model cannot be mapped to a provider (FATAL).
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a default info with
// inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	// Conservative defaults for unknown models, no cost tracking.
	return ModelInfo{
		Provider:         provider,
		InputCPM:         0.0,
		OutputCPM:        0.0,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Uses separate input and output token pricing from KnownModels registry.
// Returns 0 cost for unknown models (allows using new models without pricing data).
func CalculateCost(modelName string, promptTokens, completionTokens int) (float64, error) {
	if info, exists := KnownModels[modelName]; exists {
		inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
		outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
		return inputCost + outputCost, nil
	}
	return 0.0, nil
}

// Constants for models, providers, and project layout.
const (
	// Model name constants.
	ModelClaudeSonnet4      = "claude-sonnet-4-5"
	ModelClaudeSonnet4Old   = "claude-sonnet-4-20250514"
	ModelClaudeSonnet3      = "claude-3-7-sonnet-20250219"
	ModelClaudeSonnetLatest = ModelClaudeSonnet4
	ModelClaudeOpus45       = "claude-opus-4-5"
	ModelOpenAIO3           = "o3"
	ModelOpenAIO3Mini       = "o3-mini"
	ModelOpenAIO4Mini       = "o4-mini"
	ModelGPT4o              = "gpt-4o"
	ModelGPT5               = "gpt-5"
	ModelGemini25Flash      = "gemini-2.5-flash"
	ModelGemini3Pro         = "gemini-3-pro-preview"

	DefaultCoderModel   = ModelClaudeSonnet4
	DefaultPlannerModel = ModelClaudeSonnet4

	// Project config constants.
	ProjectConfigFilename = "config.json"
	ProjectConfigDir      = ".gamesmith"
	DatabaseFilename      = "gamesmith.db"
	RosterFilename        = "agents.yaml"
	SchemaVersion         = "1.0"

	// Provider constants.
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"

	// API key environment variable names.
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Default values applied when the config file omits a field.
const (
	DefaultMaxRetries       = 3
	DefaultLLMTimeoutSecs   = 300
	DefaultGodotBinary      = "godot"
	DefaultGodotTimeoutSecs = 60
	DefaultMaxContextTokens = 200000
	DefaultMaxReplyTokens   = 8192
	DefaultCompactionBuffer = 2000
	DefaultMetricsAddr      = "localhost:9090"
)

// DefaultAllowedPatterns lists the workspace-relative glob patterns a
// generated file may match. Everything else is rejected before writing.
//
//nolint:gochecknoglobals // Intentional global for static defaults
var DefaultAllowedPatterns = []string{
	"**/*.gd",
	"**/*.tscn",
	"**/*.tres",
	"**/*.gdshader",
	"**/*.cfg",
	"**/*.import",
	"**/*.json",
	"**/*.md",
	"project.godot",
}

// AgentConfig defines the models and budgets used by the generation agents.
type AgentConfig struct {
	CoderModel       string `json:"coder_model"`        // Model name for the coder agent (mapped to provider via KnownModels)
	PlannerModel     string `json:"planner_model"`      // Model name for the planner agent (mapped to provider via KnownModels)
	MaxRetries       int    `json:"max_retries"`        // Generation attempt budget per task
	LLMTimeoutSecs   int    `json:"llm_timeout_secs"`   // Per-call LLM timeout in seconds
	MaxContextTokens int    `json:"max_context_tokens"` // Maximum total context size
	MaxReplyTokens   int    `json:"max_reply_tokens"`   // Maximum tokens for model reply
	CompactionBuffer int    `json:"compaction_buffer"`  // Buffer tokens before history compaction
}

// GodotConfig defines how the Godot binary is invoked for validation.
type GodotConfig struct {
	BinaryPath  string   `json:"binary_path"`          // Path to the Godot executable
	TimeoutSecs int      `json:"timeout_secs"`         // Validation run timeout in seconds
	ExtraArgs   []string `json:"extra_args,omitempty"` // Additional arguments appended to the validation command
}

// WorkspaceConfig defines where and what generated files may be written.
type WorkspaceConfig struct {
	AllowedPatterns []string `json:"allowed_patterns"` // Glob patterns for writable project files
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"` // Whether the metrics endpoint is served
	Addr    string `json:"addr"`    // Listen address for /metrics and /healthz
	// PrometheusURL names an external Prometheus server that scrapes the
	// endpoint. When set, runs end with a cumulative usage summary queried
	// from it.
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

// LogsConfig contains log file settings.
type LogsConfig struct {
	File string `json:"file,omitempty"` // Log file path, empty for stderr only
}

// Config represents the main configuration for the generation engine.
//
// IMPORTANT: This structure contains only user-configurable project settings.
// Model pricing and provider mappings are hardcoded in KnownModels.
//
// Schema versioning prevents breaking changes - increment SchemaVersion for any
// structural changes.
type Config struct {
	SchemaVersion string           `json:"schema_version"` // MUST increment for breaking changes
	Agents        *AgentConfig     `json:"agents"`
	Godot         *GodotConfig     `json:"godot"`
	Workspace     *WorkspaceConfig `json:"workspace"`
	Metrics       *MetricsConfig   `json:"metrics,omitempty"`
	Logs          *LogsConfig      `json:"logs,omitempty"`
}

// LoadConfig loads the entire configuration from <projectDir>/.gamesmith/config.json
// into the global singleton.
//
// Behavior:
// - Missing file: Creates new config with defaults and saves it
// - Existing file: Loads and validates, applying defaults for missing fields
// - Unparseable file: Returns error to avoid overwriting user changes
//
// This should typically be called once at application startup.
func LoadConfig(inputProjectDir string) error {
	return LoadConfigFrom(inputProjectDir, "")
}

// LoadConfigFrom is LoadConfig with an explicit config file location. A
// non-empty configPath overrides the default file; the override is read-only
// and must exist (nothing is created or written back outside the project's
// own config file).
func LoadConfigFrom(inputProjectDir, configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Store project directory - immutable after this point
	projectDir = inputProjectDir

	override := configPath != ""
	if !override {
		configPath = filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if override {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		getLogger().Info("Config file not found, creating new config at %s", configPath)
		config = createDefaultConfig()

		if err := validateConfig(config); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		return nil
	}

	loadedConfig, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loadedConfig)
	if err := validateConfig(loadedConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loadedConfig

	if override {
		getLogger().Info("Config loaded from override %s", configPath)
		return nil
	}

	// Save config back to disk with applied defaults (ensures old configs get updated)
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}

	getLogger().Info("Config loaded and validated successfully")
	return nil
}

// GetConfig returns a copy of the current configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	// Return by value (copy) to prevent external mutation
	return *config, nil
}

// GetProjectDir returns the current project directory.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SetConfigForTesting sets the global config for testing purposes.
// Pass nil to reset. This bypasses normal initialization and should only be
// used in tests.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// SetProjectDirForTesting sets the project directory for testing purposes.
func SetProjectDirForTesting(dir string) {
	mu.Lock()
	defer mu.Unlock()
	projectDir = dir
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", configPath, err)
	}

	return &cfg, nil
}

func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// createDefaultConfig returns a config with all default settings applied.
func createDefaultConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Agents: &AgentConfig{
			CoderModel:       DefaultCoderModel,
			PlannerModel:     DefaultPlannerModel,
			MaxRetries:       DefaultMaxRetries,
			LLMTimeoutSecs:   DefaultLLMTimeoutSecs,
			MaxContextTokens: DefaultMaxContextTokens,
			MaxReplyTokens:   DefaultMaxReplyTokens,
			CompactionBuffer: DefaultCompactionBuffer,
		},
		Godot: &GodotConfig{
			BinaryPath:  DefaultGodotBinary,
			TimeoutSecs: DefaultGodotTimeoutSecs,
		},
		Workspace: &WorkspaceConfig{
			AllowedPatterns: append([]string{}, DefaultAllowedPatterns...),
		},
		Metrics: &MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
	}
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}

	if cfg.Agents == nil {
		cfg.Agents = &AgentConfig{}
	}
	if cfg.Agents.CoderModel == "" {
		cfg.Agents.CoderModel = DefaultCoderModel
	}
	if cfg.Agents.PlannerModel == "" {
		cfg.Agents.PlannerModel = DefaultPlannerModel
	}
	if cfg.Agents.MaxRetries <= 0 {
		cfg.Agents.MaxRetries = DefaultMaxRetries
	}
	if cfg.Agents.LLMTimeoutSecs <= 0 {
		cfg.Agents.LLMTimeoutSecs = DefaultLLMTimeoutSecs
	}
	if cfg.Agents.MaxContextTokens <= 0 {
		cfg.Agents.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Agents.MaxReplyTokens <= 0 {
		cfg.Agents.MaxReplyTokens = DefaultMaxReplyTokens
	}
	if cfg.Agents.CompactionBuffer <= 0 {
		cfg.Agents.CompactionBuffer = DefaultCompactionBuffer
	}

	if cfg.Godot == nil {
		cfg.Godot = &GodotConfig{}
	}
	if cfg.Godot.BinaryPath == "" {
		cfg.Godot.BinaryPath = DefaultGodotBinary
	}
	if cfg.Godot.TimeoutSecs <= 0 {
		cfg.Godot.TimeoutSecs = DefaultGodotTimeoutSecs
	}

	if cfg.Workspace == nil {
		cfg.Workspace = &WorkspaceConfig{}
	}
	if len(cfg.Workspace.AllowedPatterns) == 0 {
		cfg.Workspace.AllowedPatterns = append([]string{}, DefaultAllowedPatterns...)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{Enabled: false, Addr: DefaultMetricsAddr}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
}

func validateConfig(cfg *Config) error {
	if _, err := GetModelProvider(cfg.Agents.CoderModel); err != nil {
		return fmt.Errorf("invalid coder model: %w", err)
	}
	if _, err := GetModelProvider(cfg.Agents.PlannerModel); err != nil {
		return fmt.Errorf("invalid planner model: %w", err)
	}

	if cfg.Agents.MaxReplyTokens >= cfg.Agents.MaxContextTokens {
		return fmt.Errorf("max_reply_tokens (%d) must be less than max_context_tokens (%d)",
			cfg.Agents.MaxReplyTokens, cfg.Agents.MaxContextTokens)
	}
	if cfg.Agents.CompactionBuffer >= cfg.Agents.MaxContextTokens/2 {
		return fmt.Errorf("compaction_buffer (%d) should be much smaller than max_context_tokens (%d)",
			cfg.Agents.CompactionBuffer, cfg.Agents.MaxContextTokens)
	}

	if cfg.Godot.TimeoutSecs < 0 {
		return fmt.Errorf("godot timeout_secs cannot be negative")
	}

	return nil
}

// GetAPIKey returns the API key for a given provider.
// Checks secrets file first, then falls back to environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		// Ollama doesn't use API keys - return host URL instead
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
