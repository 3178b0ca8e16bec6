package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// LLMConfig holds credentials for the primary OpenAI-compatible endpoint
// (OpenRouter or any compatible gateway).
type LLMConfig struct {
	APIKey    string   `json:"api_key" env:"SPECFORGE_LLM_API_KEY"`
	BaseURL   string   `json:"base_url" env:"SPECFORGE_LLM_BASE_URL"`
	Model     string   `json:"model" env:"SPECFORGE_LLM_MODEL"`
	Fallbacks []string `json:"fallbacks"`
}

// AnthropicConfig holds credentials for the heavy-model path used by the
// review gate.
type AnthropicConfig struct {
	APIKey  string `json:"api_key" env:"SPECFORGE_ANTHROPIC_API_KEY"`
	BaseURL string `json:"base_url" env:"SPECFORGE_ANTHROPIC_BASE_URL"`
	Model   string `json:"model" env:"SPECFORGE_ANTHROPIC_MODEL"`
}

// ModelRolesConfig maps pipeline roles to model ids. Empty entries fall back
// to LLM.Model.
type ModelRolesConfig struct {
	Questions string `json:"questions"`
	Research  string `json:"research"`
	Challenge string `json:"challenge"`
	Synthesis string `json:"synthesis"`
	Review    string `json:"review"`
	Voting    string `json:"voting"`
	Spec      string `json:"spec"`
}

// ExpertConfig describes one expert persona.
type ExpertConfig struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt"`
	Temperature  float64        `json:"temperature"`
	Enabled      bool           `json:"enabled"`
	Model        string         `json:"model"`
	Expertise    map[string]int `json:"expertise"` // domain -> 0..10
}

// PipelineConfig holds the orchestrator iteration budgets.
type PipelineConfig struct {
	MaxIterations        int `json:"max_iterations" env:"SPECFORGE_PIPELINE_MAX_ITERATIONS"`
	SubAgentIterations   int `json:"sub_agent_iterations"`
	MaxSubAgents         int `json:"max_sub_agents"`
	ChallengesPerFinding int `json:"challenges_per_finding"`
	SpecMaxTokens        int `json:"spec_max_tokens"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key" env:"SPECFORGE_TOOLS_BRAVE_API_KEY"`
	MaxResults int    `json:"max_results"`
}

type TavilyConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key" env:"SPECFORGE_TOOLS_TAVILY_API_KEY"`
	BaseURL    string `json:"base_url"`
	MaxResults int    `json:"max_results"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results"`
}

type ExaConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key" env:"SPECFORGE_TOOLS_EXA_API_KEY"`
	BaseURL    string `json:"base_url"`
	MaxResults int    `json:"max_results"`
}

// ToolsConfig configures the research tool backends.
type ToolsConfig struct {
	Web struct {
		Brave      BraveConfig      `json:"brave"`
		Tavily     TavilyConfig     `json:"tavily"`
		DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
	} `json:"web"`
	Neural ExaConfig `json:"neural"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	Host   string `json:"host" env:"SPECFORGE_GATEWAY_HOST"`
	Port   int    `json:"port" env:"SPECFORGE_GATEWAY_PORT"`
	APIKey string `json:"api_key" env:"SPECFORGE_GATEWAY_API_KEY"`
}

// RateLimitsConfig configures per-user request limits.
type RateLimitsConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
	Burst             int  `json:"burst"`
}

// PromptsConfig configures the template store.
type PromptsConfig struct {
	Dir        string `json:"dir" env:"SPECFORGE_PROMPTS_DIR"`
	LedgerPath string `json:"ledger_path" env:"SPECFORGE_PROMPTS_LEDGER_PATH"`
	CacheTTL   int    `json:"cache_ttl_seconds"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"SPECFORGE_LOG_LEVEL"`
	File  string `json:"file" env:"SPECFORGE_LOG_FILE"`
}

type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Anthropic  AnthropicConfig  `json:"anthropic"`
	Models     ModelRolesConfig `json:"models"`
	Experts    []ExpertConfig   `json:"experts"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Tools      ToolsConfig      `json:"tools"`
	Gateway    GatewayConfig    `json:"gateway"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Prompts    PromptsConfig    `json:"prompts"`
	Logging    LoggingConfig    `json:"logging"`
}

// ModelForRole resolves a role-specific model id, falling back to the
// primary model.
func (c *Config) ModelForRole(role string) string {
	m := ""
	switch role {
	case "questions":
		m = c.Models.Questions
	case "research":
		m = c.Models.Research
	case "challenge":
		m = c.Models.Challenge
	case "synthesis":
		m = c.Models.Synthesis
	case "review":
		m = c.Models.Review
	case "voting":
		m = c.Models.Voting
	case "spec":
		m = c.Models.Spec
	}
	if m == "" {
		return c.LLM.Model
	}
	return m
}

// EnabledExperts returns the enabled subset of the expert roster.
func (c *Config) EnabledExperts() []ExpertConfig {
	out := make([]ExpertConfig, 0, len(c.Experts))
	for _, e := range c.Experts {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Expert looks up an expert by id.
func (c *Config) Expert(id string) (ExpertConfig, bool) {
	for _, e := range c.Experts {
		if e.ID == id {
			return e, true
		}
	}
	return ExpertConfig{}, false
}

// Load reads the config file at path, applies defaults, then applies
// SPECFORGE_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// DefaultPath returns ~/.specforge/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".specforge", "config.json")
}
