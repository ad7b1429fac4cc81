package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chasingclaw/internal/domain"
)

// CurrentVersion is the only config schema version this build understands.
const CurrentVersion = 1

// Config is the top-level application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Sessions SessionsConfig `yaml:"sessions"`
	Cron     CronConfig     `yaml:"cron"`
	Memory   MemoryConfig   `yaml:"memory"`
	Skills   SkillsConfig   `yaml:"skills"`
	Bus      BusConfig      `yaml:"bus"`
	Channels ChannelsConfig `yaml:"channels"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	SystemPrompt    string        `yaml:"system_prompt"`
	Model           string        `yaml:"model"`
	MaxIterations   int           `yaml:"max_iterations"`
	MaxHistory      int           `yaml:"max_history"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	Workspace       string        `yaml:"workspace"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single OpenAI-compatible provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ToolsConfig holds built-in tool settings.
type ToolsConfig struct {
	RestrictToWorkspace bool            `yaml:"restrict_to_workspace"`
	Exec                ExecConfig      `yaml:"exec"`
	WebSearch           WebSearchConfig `yaml:"web_search"`
}

// ExecConfig controls the shell execution tool.
type ExecConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`
	DenyPatterns []string      `yaml:"deny_patterns"`
	MaxOutput    int           `yaml:"max_output"`
}

// WebSearchConfig controls the web search tool.
type WebSearchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend"` // "brave" or "searxng"
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	MaxResults    int           `yaml:"max_results"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	RatePerMinute int           `yaml:"rate_per_minute"`
}

// SessionsConfig holds conversation persistence settings.
type SessionsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// CronConfig holds scheduler settings.
type CronConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Store        string        `yaml:"store"` // "file" or "sqlite"
	DataDir      string        `yaml:"data_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	Timezone     string        `yaml:"timezone"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	Provider string `yaml:"provider"` // "file" or "noop"
	DataDir  string `yaml:"data_dir"`
}

// SkillsConfig holds skill loader settings.
type SkillsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ChannelsConfig groups channel adapter settings.
type ChannelsConfig struct {
	HTTP HTTPChannelConfig `yaml:"http"`
}

// HTTPChannelConfig configures the webui/webhook/cron-admin HTTP surface.
type HTTPChannelConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	Burst           int           `yaml:"burst"`
	CallbackURL     string        `yaml:"callback_url"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.chasingclaw.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".chasingclaw")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: CurrentVersion,
		Agent: AgentConfig{
			SystemPrompt:    "You are chasingclaw, a helpful AI assistant.",
			MaxIterations:   20,
			MaxHistory:      50,
			MaxTokens:       4096,
			Temperature:     0.7,
			ProviderTimeout: 120 * time.Second,
			Workspace:       filepath.Join(dataDir, "workspace"),
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			Exec: ExecConfig{
				Enabled:   true,
				Timeout:   60 * time.Second,
				MaxOutput: 10000,
			},
			WebSearch: WebSearchConfig{
				Enabled:       false,
				Backend:       "brave",
				MaxResults:    5,
				Timeout:       15 * time.Second,
				CacheTTL:      15 * time.Minute,
				RatePerMinute: 30,
			},
		},
		Sessions: SessionsConfig{
			DataDir: filepath.Join(dataDir, "sessions"),
		},
		Cron: CronConfig{
			Enabled:      true,
			Store:        "file",
			DataDir:      filepath.Join(dataDir, "cron"),
			PollInterval: time.Second,
			JobTimeout:   5 * time.Minute,
		},
		Memory: MemoryConfig{
			Provider: "file",
			DataDir:  filepath.Join(dataDir, "workspace", "memory"),
		},
		Skills: SkillsConfig{
			Enabled: true,
			Dir:     filepath.Join(dataDir, "workspace", "skills"),
		},
		Bus: BusConfig{
			QueueSize:   64,
			IdleTimeout: time.Minute,
		},
		Channels: ChannelsConfig{
			HTTP: HTTPChannelConfig{
				Enabled:         true,
				Addr:            "127.0.0.1:18790",
				RatePerMinute:   120,
				Burst:           20,
				CallbackTimeout: 10 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfigLoad, path, err)
	default:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		// Reset so an omitted version is detected.
		cfg.Version = 0
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfigLoad, path, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CHASINGCLAW_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CHASINGCLAW_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHASINGCLAW_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("CHASINGCLAW_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("CHASINGCLAW_AGENT_WORKSPACE"); v != "" {
		cfg.Agent.Workspace = v
	}
	if v := os.Getenv("CHASINGCLAW_AGENT_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.ProviderTimeout = d
		}
	}

	if v := os.Getenv("CHASINGCLAW_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	// Per-provider API key overrides: CHASINGCLAW_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("CHASINGCLAW_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
	if v := os.Getenv("CHASINGCLAW_LLM_CIRCUIT_BREAKER_ENABLED"); v == "true" {
		cfg.LLM.CircuitBreaker.Enabled = true
	}

	if v := os.Getenv("CHASINGCLAW_TOOLS_RESTRICT_TO_WORKSPACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tools.RestrictToWorkspace = b
		}
	}
	if v := os.Getenv("CHASINGCLAW_TOOLS_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.Exec.Timeout = d
		}
	}
	if v := os.Getenv("CHASINGCLAW_TOOLS_EXEC_DENY_PATTERNS"); v != "" {
		cfg.Tools.Exec.DenyPatterns = splitAndTrim(v, ",")
	}
	if v := os.Getenv("CHASINGCLAW_WEB_SEARCH_API_KEY"); v != "" {
		cfg.Tools.WebSearch.APIKey = v
		cfg.Tools.WebSearch.Enabled = true
	}
	if v := os.Getenv("CHASINGCLAW_WEB_SEARCH_BACKEND"); v != "" {
		cfg.Tools.WebSearch.Backend = v
	}
	if v := os.Getenv("CHASINGCLAW_WEB_SEARCH_BASE_URL"); v != "" {
		cfg.Tools.WebSearch.BaseURL = v
	}

	if v := os.Getenv("CHASINGCLAW_SESSIONS_DATA_DIR"); v != "" {
		cfg.Sessions.DataDir = v
	}

	if v := os.Getenv("CHASINGCLAW_CRON_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cron.Enabled = b
		}
	}
	if v := os.Getenv("CHASINGCLAW_CRON_STORE"); v != "" {
		cfg.Cron.Store = v
	}
	if v := os.Getenv("CHASINGCLAW_CRON_DATA_DIR"); v != "" {
		cfg.Cron.DataDir = v
	}
	if v := os.Getenv("CHASINGCLAW_CRON_TIMEZONE"); v != "" {
		cfg.Cron.Timezone = v
	}

	if v := os.Getenv("CHASINGCLAW_MEMORY_PROVIDER"); v != "" {
		cfg.Memory.Provider = v
	}

	if v := os.Getenv("CHASINGCLAW_HTTP_ADDR"); v != "" {
		cfg.Channels.HTTP.Addr = v
	}
	if v := os.Getenv("CHASINGCLAW_HTTP_CALLBACK_URL"); v != "" {
		cfg.Channels.HTTP.CallbackURL = v
	}

	if v := os.Getenv("CHASINGCLAW_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CHASINGCLAW_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CHASINGCLAW_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CHASINGCLAW_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
