package main

import (
	"fmt"
	"log/slog"

	"chasingclaw/internal/adapter/llm"
	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
)

// initLLM builds every configured provider and returns the default one.
func initLLM(cfg *config.Config, log *slog.Logger) (domain.LLMProvider, error) {
	registry, err := llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		return nil, err
	}
	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no llm providers configured (add one under llm.providers)")
	}

	provider, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}
	log.Info("llm providers ready", "providers", registry.List(), "default", provider.Name())
	return provider, nil
}
