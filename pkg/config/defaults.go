package config

// DefaultConfig returns the baseline configuration with the stock expert
// roster enabled.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	cfg.LLM.Model = "openai/gpt-4o"
	cfg.LLM.Fallbacks = []string{"openai/gpt-4o-mini"}

	cfg.Anthropic.Model = "claude-sonnet-4-5"

	cfg.Pipeline = PipelineConfig{
		MaxIterations:        15,
		SubAgentIterations:   5,
		MaxSubAgents:         3,
		ChallengesPerFinding: 2,
		SpecMaxTokens:        16000,
	}

	cfg.Tools.Web.Brave.MaxResults = 5
	cfg.Tools.Web.Tavily.BaseURL = "https://api.tavily.com"
	cfg.Tools.Web.Tavily.MaxResults = 5
	cfg.Tools.Web.DuckDuckGo.Enabled = true
	cfg.Tools.Web.DuckDuckGo.MaxResults = 5
	cfg.Tools.Neural.BaseURL = "https://api.exa.ai"
	cfg.Tools.Neural.MaxResults = 5

	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 8730

	cfg.RateLimits = RateLimitsConfig{
		Enabled:           true,
		RequestsPerMinute: 30,
		Burst:             10,
	}

	cfg.Prompts.CacheTTL = 300

	cfg.Logging.Level = "info"

	cfg.Experts = DefaultExperts()
	return cfg
}

// DefaultExperts returns the stock seven-expert roster. Expertise scores are
// 0..10 per research domain.
func DefaultExperts() []ExpertConfig {
	return []ExpertConfig{
		{
			ID:           "visionary",
			Name:         "Product Visionary",
			SystemPrompt: "You are a product visionary. You think in terms of user value, differentiation, and where the product should be in five years.",
			Temperature:  0.8,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 4, "design": 6, "market": 8, "legal": 2, "growth": 8, "security": 2},
		},
		{
			ID:           "engineer",
			Name:         "Staff Engineer",
			SystemPrompt: "You are a staff engineer. You evaluate architecture, feasibility, operational cost, and failure modes with concrete technical detail.",
			Temperature:  0.3,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 10, "design": 4, "market": 2, "legal": 2, "growth": 3, "security": 7},
		},
		{
			ID:           "designer",
			Name:         "Design Lead",
			SystemPrompt: "You are a design lead. You focus on user experience, interaction patterns, accessibility, and information architecture.",
			Temperature:  0.7,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 4, "design": 10, "market": 5, "legal": 1, "growth": 5, "security": 2},
		},
		{
			ID:           "analyst",
			Name:         "Market Analyst",
			SystemPrompt: "You are a market analyst. You research competitors, sizing, pricing, and positioning, and back claims with evidence.",
			Temperature:  0.4,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 2, "design": 3, "market": 10, "legal": 3, "growth": 7, "security": 1},
		},
		{
			ID:           "counsel",
			Name:         "Legal Counsel",
			SystemPrompt: "You are product counsel. You assess regulatory exposure, data protection, licensing, and contractual risk.",
			Temperature:  0.2,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 2, "design": 1, "market": 3, "legal": 10, "growth": 2, "security": 6},
		},
		{
			ID:           "growth",
			Name:         "Growth Strategist",
			SystemPrompt: "You are a growth strategist. You design acquisition loops, retention mechanics, and monetization experiments.",
			Temperature:  0.7,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 3, "design": 4, "market": 7, "legal": 1, "growth": 10, "security": 1},
		},
		{
			ID:           "security",
			Name:         "Security Auditor",
			SystemPrompt: "You are a security auditor. You threat-model the product, question trust boundaries, and insist on concrete mitigations.",
			Temperature:  0.2,
			Enabled:      true,
			Expertise:    map[string]int{"technical": 7, "design": 1, "market": 1, "legal": 5, "growth": 1, "security": 10},
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.MaxIterations <= 0 {
		cfg.Pipeline.MaxIterations = 15
	}
	if cfg.Pipeline.SubAgentIterations <= 0 {
		cfg.Pipeline.SubAgentIterations = 5
	}
	if cfg.Pipeline.MaxSubAgents <= 0 {
		cfg.Pipeline.MaxSubAgents = 3
	}
	if cfg.Pipeline.ChallengesPerFinding <= 0 {
		cfg.Pipeline.ChallengesPerFinding = 2
	}
	if cfg.Pipeline.SpecMaxTokens <= 0 {
		cfg.Pipeline.SpecMaxTokens = 16000
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8730
	}
	if cfg.Prompts.CacheTTL <= 0 {
		cfg.Prompts.CacheTTL = 300
	}
	if cfg.RateLimits.RequestsPerMinute <= 0 {
		cfg.RateLimits.RequestsPerMinute = 30
	}
	if cfg.RateLimits.Burst <= 0 {
		cfg.RateLimits.Burst = 10
	}
	if len(cfg.Experts) == 0 {
		cfg.Experts = DefaultExperts()
	}
}
