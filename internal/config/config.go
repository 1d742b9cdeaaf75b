// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the sheetpilot configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`       // Main model driving the agents
	SmallLLM  LLMConfig       `toml:"small_llm"` // Fast/cheap model for summarization and routing
	Storage   StorageConfig   `toml:"storage"`   // Thread and transcript persistence
	Limits    LimitsConfig    `toml:"limits"`    // Loop and round ceilings
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama)
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (e.g. "60s")
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Base directory for thread state and transcripts
}

// LimitsConfig holds the loop ceilings. These are the system's only termination
// guarantee, so they are configuration rather than literals.
type LimitsConfig struct {
	SupervisorSteps     int `toml:"supervisor_steps"`     // Total routing steps per run
	EditToolResults     int `toml:"edit_tool_results"`    // Tool results before the edit loop gives up
	VerifierSteps       int `toml:"verifier_steps"`       // Reasoning+tool steps before IN_PROGRESS
	ClarificationRounds int `toml:"clarification_rounds"` // Ask/answer cycles before proceeding anyway
	TranscriptMessages  int `toml:"transcript_messages"`  // Messages kept before truncation

	// VerifierPassFloor is the step count after which an unparsable verdict
	// defaults to PASS instead of FAILED. Favors availability over correctness;
	// deliberate, and tunable per deployment.
	VerifierPassFloor int `toml:"verifier_pass_floor"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g. localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Storage: StorageConfig{
			Path: "~/.local/sheetpilot",
		},
		Limits: LimitsConfig{
			SupervisorSteps:     15,
			EditToolResults:     5,
			VerifierSteps:       20,
			ClarificationRounds: 3,
			TranscriptMessages:  40,
			VerifierPassFloor:   10,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file. Missing limit values fall back
// to defaults so a partial [limits] table never zeroes a ceiling.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Limits.fillDefaults()
	return cfg, nil
}

// LoadDefault loads configuration from sheetpilot.toml in the current directory,
// falling back to built-in defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, "sheetpilot.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// fillDefaults replaces zero-valued ceilings with defaults. A zero ceiling would
// disable an agent loop entirely.
func (l *LimitsConfig) fillDefaults() {
	d := New().Limits
	if l.SupervisorSteps <= 0 {
		l.SupervisorSteps = d.SupervisorSteps
	}
	if l.EditToolResults <= 0 {
		l.EditToolResults = d.EditToolResults
	}
	if l.VerifierSteps <= 0 {
		l.VerifierSteps = d.VerifierSteps
	}
	if l.ClarificationRounds <= 0 {
		l.ClarificationRounds = d.ClarificationRounds
	}
	if l.TranscriptMessages <= 0 {
		l.TranscriptMessages = d.TranscriptMessages
	}
	if l.VerifierPassFloor <= 0 {
		l.VerifierPassFloor = d.VerifierPassFloor
	}
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	return c.LLM.apiKey()
}

// GetSmallAPIKey returns the API key for the small model.
func (c *Config) GetSmallAPIKey() string {
	return c.SmallLLM.apiKey()
}

func (l LLMConfig) apiKey() string {
	envVar := l.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(l.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// RetryBackoffDuration parses the retry backoff, defaulting to 60s.
func (l LLMConfig) RetryBackoffDuration() time.Duration {
	if l.RetryBackoff == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(l.RetryBackoff)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// StoragePath expands ~ in the storage path.
func (c *Config) StoragePath() string {
	path := c.Storage.Path
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
