package main

import (
	"database/sql"
	"fmt"

	"github.com/rahul/dealdesk/internal/agent"
	"github.com/rahul/dealdesk/internal/governance"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/internal/router"
	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/tools"
	"github.com/rahul/dealdesk/internal/workflow"
	"github.com/rahul/dealdesk/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// app holds the wired components shared by serve and chat.
type app struct {
	cfg          *config.Config
	db           *sql.DB
	logger       *observability.Logger
	metrics      *observability.Metrics
	sessions     *store.SessionStore
	orchestrator *agent.Orchestrator
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewProductionLogger(cfg.App.LogLevel, cfg.App.LLMLogPath)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	metrics := observability.NewMetrics()

	db, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, err
	}

	model, err := newModel(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	model = agent.NewRetryingModel(model, agent.RetryConfig{
		MaxAttempts:       cfg.Loop.RetryAttempts,
		BackoffBase:       cfg.Loop.RetryBackoff,
		BackoffMultiplier: 2,
		MaxBackoff:        cfg.Loop.MaxBackoff,
	}, logger, metrics)

	prompts, err := agent.LoadPromptCatalogue(cfg.Prompts.Dir)
	if err != nil {
		db.Close()
		return nil, err
	}

	policy, err := governance.NewPolicyEngine(cfg.Policy.DeniedTools, cfg.Policy.DeniedPatterns)
	if err != nil {
		db.Close()
		return nil, err
	}
	executors := agent.DefaultExecutors()
	for name, e := range executors {
		policy.AllowForExecutor(name, append([]string{agent.EscalateToolName}, e.Tools...))
	}

	validator := workflow.NewValidator(nil, cfg.WorkflowRules())
	properties := store.NewPropertyRepo(db)
	sessions := store.NewSessionStore(db, cfg.Memory.MaxTurns, logger)

	registry := tools.NewRegistry()
	tools.RegisterPropertyTools(registry, properties, validator)
	registry.Register(tools.NewFetchListingTool(0))
	if search, err := tools.NewMarketSearchTool(0); err != nil {
		logger.Warn("market search unavailable", zap.Error(err))
	} else {
		registry.Register(search)
	}

	orch := agent.NewOrchestrator(agent.Deps{
		Sessions:    sessions,
		Properties:  properties,
		Validator:   validator,
		Router:      router.New(nil, cfg.RouterThresholds()),
		Prompts:     prompts,
		Loop:        agent.NewToolLoop(model, policy, logger, metrics, cfg.Loop.PruneSample),
		Registry:    registry,
		Executors:   executors,
		TurnTimeout: cfg.Loop.TurnTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	provider, _ := cfg.DefaultProvider()
	logger.Info("dealdesk initialised",
		zap.String("provider", provider),
		zap.String("db", cfg.Memory.Path),
		zap.String("prompts_version", prompts.Version()),
		zap.Strings("tools", registry.Names()))

	return &app{
		cfg:          cfg,
		db:           db,
		logger:       logger,
		metrics:      metrics,
		sessions:     sessions,
		orchestrator: orch,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
	a.logger.Sync()
}

func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.DefaultProvider()
	switch name {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	}
	return nil, fmt.Errorf("provider %q not supported", name)
}
