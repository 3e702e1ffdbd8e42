// Package config loads the dealdesk YAML configuration, applies environment
// overrides and defaults, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rahul/dealdesk/internal/router"
	"github.com/rahul/dealdesk/internal/workflow"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Gateway names.
const (
	GatewayHTTP     = "http"
	GatewayTelegram = "telegram"
	GatewayDiscord  = "discord"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Gateways  map[string]GatewayConfig  `yaml:"gateways"`
	Memory    MemoryConfig              `yaml:"memory"`
	Loop      LoopConfig                `yaml:"loop"`
	Rules     RulesConfig               `yaml:"rules"`
	Routing   RoutingConfig             `yaml:"routing"`
	Policy    PolicyConfig              `yaml:"policy"`
	Prompts   PromptsConfig             `yaml:"prompts"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// LLMLogPath mirrors engine prompts and responses to a rotated file.
	LLMLogPath string `yaml:"llm_log_path"`
}

type GatewayConfig struct {
	Token      string `yaml:"token"`
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type MemoryConfig struct {
	Path     string `yaml:"path"`
	MaxTurns int    `yaml:"max_turns"`
	// Retention deletes sessions idle for longer; zero keeps them forever.
	Retention       time.Duration `yaml:"retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

type LoopConfig struct {
	// PruneSample is how many collection items a tool result shows the engine.
	PruneSample   int           `yaml:"prune_sample"`
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

type RulesConfig struct {
	MaxAskToMarketRatio      float64            `yaml:"max_ask_to_market_ratio"`
	MaxCostToARVRatio        float64            `yaml:"max_cost_to_arv_ratio"`
	MinOverrideJustification int                `yaml:"min_override_justification"`
	RepairCosts              map[string]float64 `yaml:"repair_costs"`
}

type RoutingConfig struct {
	// Thresholds maps a router category to its acceptance threshold.
	Thresholds map[string]float64 `yaml:"thresholds"`
}

type PolicyConfig struct {
	DeniedTools    []string `yaml:"denied_tools"`
	DeniedPatterns []string `yaml:"denied_patterns"`
}

type PromptsConfig struct {
	// Dir overrides embedded prompt fragments file by file.
	Dir string `yaml:"dir"`
}

// Load reads the YAML file at path (optional when empty), loads a .env file
// from the working directory if present, applies environment overrides and
// defaults, and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}

	if key := getenv("OPENAI_API_KEY"); key != "" {
		p := c.Providers[ProviderOpenAI]
		p.APIKey = key
		if name, _ := c.DefaultProvider(); name == "" {
			p.Enabled = true
		}
		c.Providers[ProviderOpenAI] = p
	}
	if v := getenv("DEALDESK_DB_PATH"); v != "" {
		c.Memory.Path = v
	}
	if v := getenv("TELEGRAM_TOKEN"); v != "" {
		g := c.Gateways[GatewayTelegram]
		g.Token, g.Enabled = v, true
		c.Gateways[GatewayTelegram] = g
	}
	if v := getenv("DISCORD_TOKEN"); v != "" {
		g := c.Gateways[GatewayDiscord]
		g.Token, g.Enabled = v, true
		c.Gateways[GatewayDiscord] = g
	}
	if v := getenv("DEALDESK_LISTEN_ADDR"); v != "" {
		g := c.Gateways[GatewayHTTP]
		g.ListenAddr, g.Enabled = v, true
		c.Gateways[GatewayHTTP] = g
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "dealdesk"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	for name, p := range c.Providers {
		if p.Model == "" {
			switch name {
			case ProviderOpenAI:
				p.Model = "gpt-4o-mini"
			case ProviderOllama:
				p.Model = "llama3.1"
			}
			c.Providers[name] = p
		}
	}
	if g, ok := c.Gateways[GatewayHTTP]; ok && g.ListenAddr == "" {
		g.ListenAddr = ":8080"
		c.Gateways[GatewayHTTP] = g
	}

	if c.Memory.Path == "" {
		c.Memory.Path = "dealdesk.db"
	}
	if c.Memory.MaxTurns == 0 {
		c.Memory.MaxTurns = 40
	}
	if c.Memory.JanitorInterval == 0 {
		c.Memory.JanitorInterval = time.Hour
	}

	if c.Loop.PruneSample == 0 {
		c.Loop.PruneSample = 10
	}
	if c.Loop.TurnTimeout == 0 {
		c.Loop.TurnTimeout = 90 * time.Second
	}
	if c.Loop.RetryAttempts == 0 {
		c.Loop.RetryAttempts = 2
	}
	if c.Loop.RetryBackoff == 0 {
		c.Loop.RetryBackoff = 500 * time.Millisecond
	}
	if c.Loop.MaxBackoff == 0 {
		c.Loop.MaxBackoff = 5 * time.Second
	}

	def := workflow.DefaultRules()
	if c.Rules.MaxAskToMarketRatio == 0 {
		c.Rules.MaxAskToMarketRatio = def.MaxAskToMarketRatio
	}
	if c.Rules.MaxCostToARVRatio == 0 {
		c.Rules.MaxCostToARVRatio = def.MaxCostToARVRatio
	}
	if c.Rules.MinOverrideJustification == 0 {
		c.Rules.MinOverrideJustification = def.MinOverrideJustification
	}
	if len(c.Rules.RepairCosts) == 0 {
		c.Rules.RepairCosts = def.RepairCosts
	}
}

func (c *Config) validate() error {
	var problems []string

	enabled := 0
	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		switch name {
		case ProviderOpenAI, ProviderOllama:
		default:
			problems = append(problems, fmt.Sprintf("providers.%s: unknown provider (use openai or ollama)", name))
			continue
		}
		if !p.Enabled {
			continue
		}
		enabled++
		if name == ProviderOpenAI && p.APIKey == "" {
			problems = append(problems, "providers.openai.api_key is required (or set OPENAI_API_KEY)")
		}
	}
	if enabled == 0 {
		problems = append(problems, "at least one provider must be enabled")
	}

	for _, name := range sortedKeys(c.Gateways) {
		g := c.Gateways[name]
		switch name {
		case GatewayHTTP:
		case GatewayTelegram, GatewayDiscord:
			if g.Enabled && g.Token == "" {
				problems = append(problems, fmt.Sprintf("gateways.%s.token is required when enabled", name))
			}
		default:
			problems = append(problems, fmt.Sprintf("gateways.%s: unknown gateway", name))
		}
	}

	if c.Memory.MaxTurns < 0 {
		problems = append(problems, "memory.max_turns must not be negative")
	}
	if c.Memory.Retention < 0 {
		problems = append(problems, "memory.retention must not be negative")
	}
	if c.Loop.PruneSample < 0 {
		problems = append(problems, "loop.prune_sample must not be negative")
	}
	if c.Loop.TurnTimeout < 0 {
		problems = append(problems, "loop.turn_timeout must not be negative")
	}
	if c.Loop.RetryAttempts < 1 {
		problems = append(problems, "loop.retry_attempts must be at least 1")
	}

	if c.Rules.MaxAskToMarketRatio <= 0 {
		problems = append(problems, "rules.max_ask_to_market_ratio must be positive")
	}
	if c.Rules.MaxCostToARVRatio <= 0 {
		problems = append(problems, "rules.max_cost_to_arv_ratio must be positive")
	}
	if c.Rules.MinOverrideJustification < 0 {
		problems = append(problems, "rules.min_override_justification must not be negative")
	}
	for _, d := range sortedKeys(c.Rules.RepairCosts) {
		if c.Rules.RepairCosts[d] < 0 {
			problems = append(problems, fmt.Sprintf("rules.repair_costs.%s must not be negative", d))
		}
	}

	known := router.DefaultThresholds()
	for _, cat := range sortedKeys(c.Routing.Thresholds) {
		v := c.Routing.Thresholds[cat]
		if _, ok := known[router.Category(cat)]; !ok {
			problems = append(problems, fmt.Sprintf("routing.thresholds.%s: unknown category", cat))
		} else if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("routing.thresholds.%s must be between 0 and 1", cat))
		}
	}

	for _, p := range c.Policy.DeniedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			problems = append(problems, fmt.Sprintf("policy.denied_patterns: %q does not compile: %v", p, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DefaultProvider returns the first enabled provider in name order.
func (c *Config) DefaultProvider() (string, ProviderConfig) {
	for _, name := range sortedKeys(c.Providers) {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// Gateway returns the named gateway config if it is enabled.
func (c *Config) Gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}

// WorkflowRules converts the rules section for the stage validator.
func (c *Config) WorkflowRules() workflow.Rules {
	costs := make(map[string]float64, len(c.Rules.RepairCosts))
	for k, v := range c.Rules.RepairCosts {
		costs[k] = v
	}
	return workflow.Rules{
		MaxAskToMarketRatio:      c.Rules.MaxAskToMarketRatio,
		MaxCostToARVRatio:        c.Rules.MaxCostToARVRatio,
		RepairCosts:              costs,
		MinOverrideJustification: c.Rules.MinOverrideJustification,
	}
}

// RouterThresholds overlays configured thresholds on the router defaults.
func (c *Config) RouterThresholds() router.Thresholds {
	t := router.DefaultThresholds()
	for cat, v := range c.Routing.Thresholds {
		t[router.Category(cat)] = v
	}
	return t
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
