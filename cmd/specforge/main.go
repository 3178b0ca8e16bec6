package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/gateway"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/prompts"
	"github.com/specforge/specforge/pkg/providers"
	"github.com/specforge/specforge/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "specforge",
		Short:         "Multi-expert research and debate pipeline for product specs",
		Version:       formatVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func formatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

// components is everything a command needs to drive the pipeline.
type components struct {
	cfg    *config.Config
	client *providers.Client
	tools  *tools.Registry
	store  *prompts.Store
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// buildComponents loads config and wires providers, tools, and the template
// store the same way for serve and run.
func buildComponents() (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyLogging(cfg)
	gateway.Version = formatVersion()

	backends := map[string]providers.LLMProvider{}
	if cfg.LLM.APIKey != "" {
		backends[providers.BackendOpenAI] = providers.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	}
	if cfg.Anthropic.APIKey != "" {
		backends[providers.BackendAnthropic] = providers.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
	}
	client := providers.NewClient(backends, cfg.LLM.Fallbacks)

	registry := tools.NewRegistry()
	if ws := tools.NewWebSearchTool(tools.WebSearchOptions{
		BraveAPIKey:   cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:  cfg.Tools.Web.Brave.Enabled,
		TavilyAPIKey:  cfg.Tools.Web.Tavily.APIKey,
		TavilyBaseURL: cfg.Tools.Web.Tavily.BaseURL,
		TavilyEnabled: cfg.Tools.Web.Tavily.Enabled,
		DDGEnabled:    cfg.Tools.Web.DuckDuckGo.Enabled,
		MaxResults:    cfg.Tools.Web.Brave.MaxResults,
	}); ws != nil {
		registry.Register(ws)
	}
	if ns := tools.NewNeuralSearchTool(tools.NeuralSearchOptions{
		APIKey:     cfg.Tools.Neural.APIKey,
		BaseURL:    cfg.Tools.Neural.BaseURL,
		MaxResults: cfg.Tools.Neural.MaxResults,
	}); ns != nil {
		registry.Register(ns)
	}

	var ledger *prompts.Ledger
	if cfg.Prompts.LedgerPath != "" {
		ledger, err = prompts.NewLedger(cfg.Prompts.LedgerPath)
		if err != nil {
			logger.WarnCF("main", "template ledger unavailable", map[string]any{"error": err.Error()})
		}
	}
	store, err := prompts.NewStore(prompts.Options{
		Dir:      cfg.Prompts.Dir,
		CacheTTL: time.Duration(cfg.Prompts.CacheTTL) * time.Second,
		Ledger:   ledger,
	})
	if err != nil {
		return nil, fmt.Errorf("init template store: %w", err)
	}

	return &components{cfg: cfg, client: client, tools: registry, store: store}, nil
}

func applyLogging(cfg *config.Config) {
	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if cfg.Logging.File != "" {
		if err := logger.EnableFileLogging(cfg.Logging.File); err != nil {
			logger.WarnCF("main", "file logging unavailable", map[string]any{"error": err.Error()})
		}
	}
}
