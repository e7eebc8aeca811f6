package main

import (
	"context"
	"fmt"

	"github.com/agentcore/engine/internal/builtins"
	"github.com/agentcore/engine/internal/config"
	"github.com/agentcore/engine/internal/contextmanager"
	"github.com/agentcore/engine/internal/metrics"
	"github.com/agentcore/engine/internal/orchestrator"
	"github.com/agentcore/engine/internal/provider"
	"github.com/agentcore/engine/internal/scheduler"
	"github.com/agentcore/engine/internal/skills"
	"github.com/agentcore/engine/internal/store"
	"github.com/agentcore/engine/internal/tools"
)

// app bundles the fully wired dependency graph every subcommand operates
// on, plus a Close to release the store's resources on exit.
type app struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Skills       *skills.Registry
	Scheduler    *scheduler.Scheduler
}

func (a *app) Close() error {
	a.Scheduler.StopAll()
	return a.Store.Close()
}

// buildProvider constructs a concrete Provider for one family's config.
func buildProvider(pc *config.ProviderConfig) (provider.Provider, error) {
	if pc == nil {
		return nil, nil
	}
	switch pc.Backend {
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:         pc.APIKey,
			BaseURL:        pc.BaseURL,
			DefaultModel:   pc.Model,
			EmbeddingModel: pc.EmbeddingModel,
		})
	case "anthropic", "":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.Model,
		})
	default:
		return nil, fmt.Errorf("config: unknown provider backend %q", pc.Backend)
	}
}

// buildApp wires every collaborator from cfg: providers, the SQLite store,
// the tool registry and dispatcher, the skill registry, the scheduler, the
// context manager, and finally the orchestrator that ties them together.
func buildApp(cfg *config.Config) (*app, error) {
	defaultProvider, err := buildProvider(cfg.Default)
	if err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}
	fastProvider, err := buildProvider(cfg.Fast)
	if err != nil {
		return nil, fmt.Errorf("fast provider: %w", err)
	}
	visionProvider, err := buildProvider(cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("vision provider: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	embed := func(texts []string) ([][]float32, error) {
		return defaultProvider.Embed(context.Background(), texts)
	}
	st.SetEmbedder(embed)

	skillRegistry := skills.NewRegistry(cfg.SkillsDir, cfg.SkillsSidecarPath, embed)

	registry := tools.NewRegistry()
	registry.Register(builtins.NewExecTool())
	registry.Register(builtins.NewReadFileTool())
	registry.Register(builtins.NewWriteFileTool())
	registry.Register(builtins.NewHTTPRequestTool())
	registry.Register(builtins.NewWebSearchTool())

	loopMetrics := metrics.NewLoop()
	dispatcherCfg := tools.DefaultDispatcherConfig()
	dispatcherCfg.Metrics = loopMetrics
	dispatcher := tools.NewDispatcher(registry, dispatcherCfg)

	sched := scheduler.New()

	systemPrompt, err := config.LoadSystemPrompt(cfg.SystemPromptTemplatePath, defaultSystemPrompt, map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}
	ctxMgr := contextmanager.New(st, skillRegistry, defaultProvider, systemPrompt)

	orch := orchestrator.New(orchestrator.Dependencies{
		DefaultProvider: defaultProvider,
		FastProvider:    fastProvider,
		VisionProvider:  visionProvider,
		ContextMgr:      ctxMgr,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Store:           st,
		Skills:          skillRegistry,
		Scheduler:       sched,
		TempRoot:        cfg.TempRoot,
		MaxIterations:   cfg.MaxIterations,
		Metrics:         loopMetrics,
		Heartbeat: orchestrator.HeartbeatConfig{
			Enabled:         cfg.HeartbeatEnabled,
			Interval:        cfg.HeartbeatInterval,
			Prompt:          orchestrator.ResolvePrompt(cfg.HeartbeatPrompt),
			MaxAckChars:     orchestrator.DefaultHeartbeatConfig().MaxAckChars,
			MissedThreshold: orchestrator.DefaultHeartbeatConfig().MissedThreshold,
		},
	})

	return &app{Orchestrator: orch, Store: st, Skills: skillRegistry, Scheduler: sched}, nil
}

const defaultSystemPrompt = `You are a helpful, direct assistant with access to tools for running commands, reading and writing files, and searching the web. Use tools when they help answer the request; otherwise respond directly.`
