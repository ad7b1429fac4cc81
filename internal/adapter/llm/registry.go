package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
)

// NewProvider builds the provider described by cfg, wrapped in a circuit
// breaker when cb is enabled.
func NewProvider(cfg config.ProviderConfig, cb config.CircuitBreakerConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var p domain.LLMProvider
	switch cfg.Type {
	case "", "openai":
		p = NewOpenAIProvider(cfg, logger)
	case "openrouter":
		p = NewOpenRouterProvider(cfg, logger)
	case "ollama":
		p = newOpenAIProvider(cfg, "http://localhost:11434/v1", NewHTTPClient(cfg), logger)
	case "vllm":
		p = newOpenAIProvider(cfg, "http://localhost:8000/v1", NewHTTPClient(cfg), logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q (want: openai, openrouter, ollama, vllm)", cfg.Type)
	}
	if cb.Enabled {
		p = NewCircuitBreakerProvider(p, cb, logger)
	}
	return p, nil
}

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// NewRegistryFromConfig builds and registers every configured provider.
func NewRegistryFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, cfg.CircuitBreaker, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
