package main

import (
	"fmt"
	"log/slog"
	"time"

	"chasingclaw/internal/adapter/memory"
	"chasingclaw/internal/adapter/skill"
	"chasingclaw/internal/adapter/tool"
	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/security"
	"chasingclaw/internal/usecase"
	"chasingclaw/internal/usecase/cronjob"
)

const memoryCacheTTL = 30 * time.Second

// AgentComponents holds the agent and the collaborators it was built from.
type AgentComponents struct {
	Agent          *usecase.Agent
	Tools          *tool.Registry
	Sessions       *usecase.SessionManager
	ContextBuilder *usecase.ContextBuilder
	Memory         domain.MemoryStore
}

// initMemory selects the memory store.
func initMemory(cfg config.MemoryConfig, log *slog.Logger) (domain.MemoryStore, error) {
	switch cfg.Provider {
	case "noop", "":
		log.Info("memory disabled")
		return memory.NewNoopMemory(), nil
	case "file":
		fm, err := memory.NewFileMemory(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		log.Info("memory enabled", "provider", "file", "dir", cfg.DataDir)
		return memory.NewCachedMemory(fm, memoryCacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
	}
}

// initTools registers the built-in tools. cron may be nil when the
// scheduler is disabled.
func initTools(cfg *config.Config, sandbox *security.Sandbox, mem domain.MemoryStore, skills *skill.FileLoader, cron *cronjob.Service, log *slog.Logger) (*tool.Registry, error) {
	registry := tool.NewRegistry(log)
	register := func(t domain.Tool) error {
		if err := registry.Register(t); err != nil {
			return err
		}
		log.Debug("tool registered", "tool", t.Name())
		return nil
	}

	if err := register(tool.NewFilesystemTool(tool.LocalFilesystem{}, sandbox, log)); err != nil {
		return nil, err
	}

	if cfg.Tools.Exec.Enabled {
		exec, err := tool.NewExecTool(tool.LocalShell{}, sandbox, tool.ExecOptions{
			Timeout:      cfg.Tools.Exec.Timeout,
			DenyPatterns: cfg.Tools.Exec.DenyPatterns,
			MaxOutput:    cfg.Tools.Exec.MaxOutput,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("exec tool: %w", err)
		}
		if err := register(exec); err != nil {
			return nil, err
		}
	}

	if ws := cfg.Tools.WebSearch; ws.Enabled {
		var backend tool.SearchBackend
		switch ws.Backend {
		case "searxng":
			backend = tool.NewSearXNGBackend(ws.BaseURL, ws.Timeout, log)
		default:
			backend = tool.NewBraveBackend(ws.APIKey, ws.BaseURL, ws.Timeout, log)
		}
		if err := register(tool.NewWebSearchTool(backend, tool.WebSearchOptions{
			MaxResults:    ws.MaxResults,
			CacheTTL:      ws.CacheTTL,
			RatePerMinute: ws.RatePerMinute,
		}, log)); err != nil {
			return nil, err
		}
		log.Info("web search tool enabled", "backend", ws.Backend)
	}

	if cron != nil {
		if err := register(tool.NewCronTool(cron, log)); err != nil {
			return nil, err
		}
	}
	if cfg.Memory.Provider == "file" {
		if err := register(tool.NewMemoryTool(mem, log)); err != nil {
			return nil, err
		}
	}
	if skills != nil {
		if err := register(skill.NewTool(skills, log)); err != nil {
			return nil, err
		}
	}

	log.Info("tools ready", "tools", registry.Names())
	return registry, nil
}

// initAgent wires sessions, context building and the agent loop.
func initAgent(cfg *config.Config, provider domain.LLMProvider, cron *cronjob.Service, log *slog.Logger) (*AgentComponents, error) {
	sandbox, err := security.NewSandbox(cfg.Agent.Workspace, cfg.Tools.RestrictToWorkspace)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	mem, err := initMemory(cfg.Memory, log)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	var skills *skill.FileLoader
	if cfg.Skills.Enabled {
		skills = skill.NewFileLoader(cfg.Skills.Dir)
	}

	tools, err := initTools(cfg, sandbox, mem, skills, cron, log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	sessions, err := usecase.NewSessionManager(cfg.Sessions.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	var skillsLoader domain.SkillsLoader
	if skills != nil {
		skillsLoader = skills
	}
	cb := usecase.NewContextBuilder(usecase.ContextConfig{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Model:        cfg.Agent.Model,
		MaxHistory:   cfg.Agent.MaxHistory,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		Workspace:    cfg.Agent.Workspace,
	}, mem, skillsLoader, log)

	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:             provider,
		Tools:           tools,
		Sessions:        sessions,
		ContextBuilder:  cb,
		Logger:          log,
		MaxIterations:   cfg.Agent.MaxIterations,
		ProviderTimeout: cfg.Agent.ProviderTimeout,
	})

	return &AgentComponents{
		Agent:          agent,
		Tools:          tools,
		Sessions:       sessions,
		ContextBuilder: cb,
		Memory:         mem,
	}, nil
}
