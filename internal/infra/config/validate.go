package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	if cfg.Version != CurrentVersion {
		ve.Add("version %d is unsupported (want %d)", cfg.Version, CurrentVersion)
	}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateCron(cfg, ve)
	validateMemory(cfg, ve)
	validateChannels(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.MaxHistory < 0 {
		ve.Add("agent.max_history must be >= 0")
	}
	if cfg.Agent.ProviderTimeout <= 0 {
		ve.Add("agent.provider_timeout must be > 0")
	}
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if cfg.Agent.Workspace == "" {
		ve.Add("agent.workspace must not be empty")
	}
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"ollama":     true,
	"vllm":       true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cb := cfg.LLM.CircuitBreaker; cb.Enabled && (cb.MaxFailures == 0 || cb.Timeout <= 0) {
		ve.Add("llm.circuit_breaker requires max_failures > 0 and timeout > 0 when enabled")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, openrouter, ollama, vllm)", i, p.Type)
		}
		if p.APIKey == "" && p.Type != "ollama" && p.Type != "vllm" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CHASINGCLAW_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

var validSearchBackends = map[string]bool{
	"brave":   true,
	"searxng": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.Exec.Enabled {
		if cfg.Tools.Exec.Timeout <= 0 {
			ve.Add("tools.exec.timeout must be > 0")
		}
		if cfg.Tools.Exec.MaxOutput <= 0 {
			ve.Add("tools.exec.max_output must be > 0")
		}
	}

	ws := cfg.Tools.WebSearch
	if !ws.Enabled {
		return
	}
	if !validSearchBackends[ws.Backend] {
		ve.Add("tools.web_search.backend %q is invalid (want: brave, searxng)", ws.Backend)
	}
	if ws.Backend == "brave" && ws.APIKey == "" {
		ve.Add("tools.web_search.api_key is required for the brave backend (set via CHASINGCLAW_WEB_SEARCH_API_KEY)")
	}
	if ws.Backend == "searxng" && ws.BaseURL == "" {
		ve.Add("tools.web_search.base_url is required for the searxng backend")
	}
	if ws.MaxResults <= 0 || ws.MaxResults > 20 {
		ve.Add("tools.web_search.max_results must be between 1 and 20")
	}
	if ws.CacheTTL < 0 {
		ve.Add("tools.web_search.cache_ttl must be >= 0")
	}
}

var validCronStores = map[string]bool{
	"file":   true,
	"sqlite": true,
}

func validateCron(cfg *Config, ve *ValidationError) {
	if !cfg.Cron.Enabled {
		return
	}
	if !validCronStores[cfg.Cron.Store] {
		ve.Add("cron.store %q is invalid (want: file, sqlite)", cfg.Cron.Store)
	}
	if cfg.Cron.DataDir == "" {
		ve.Add("cron.data_dir must not be empty")
	}
	if cfg.Cron.PollInterval <= 0 || cfg.Cron.PollInterval > time.Minute {
		ve.Add("cron.poll_interval must be between 0 and 1m")
	}
	if cfg.Cron.JobTimeout <= 0 {
		ve.Add("cron.job_timeout must be > 0")
	}
	if cfg.Cron.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Cron.Timezone); err != nil {
			ve.Add("cron.timezone %q is invalid: %v", cfg.Cron.Timezone, err)
		}
	}
}

var validMemoryProviders = map[string]bool{
	"noop": true,
	"file": true,
}

func validateMemory(cfg *Config, ve *ValidationError) {
	if !validMemoryProviders[cfg.Memory.Provider] {
		ve.Add("memory.provider %q is invalid (want: noop, file)", cfg.Memory.Provider)
	}
	if cfg.Memory.Provider == "file" && cfg.Memory.DataDir == "" {
		ve.Add("memory.data_dir is required when provider is file")
	}
}

func validateChannels(cfg *Config, ve *ValidationError) {
	h := cfg.Channels.HTTP
	if !h.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		ve.Add("channels.http.addr %q is invalid: %v", h.Addr, err)
	}
	if h.RatePerMinute < 0 || h.Burst < 0 {
		ve.Add("channels.http.rate_per_minute and burst must be >= 0")
	}
	if h.CallbackURL != "" && !strings.HasPrefix(h.CallbackURL, "http://") && !strings.HasPrefix(h.CallbackURL, "https://") {
		ve.Add("channels.http.callback_url must be an http(s) URL")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
