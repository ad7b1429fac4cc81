package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Agent.MaxIterations)
	}
	if !cfg.Tools.RestrictToWorkspace {
		t.Error("RestrictToWorkspace should default to true")
	}
	if cfg.Cron.PollInterval != time.Second {
		t.Errorf("Cron.PollInterval = %v, want 1s", cfg.Cron.PollInterval)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
version: 1
agent:
  max_iterations: 8
  system_prompt: "test bot"
llm:
  default_provider: "groq"
  providers:
    - name: "groq"
      type: "openai"
      base_url: "https://api.groq.com/openai/v1"
      api_key: "test-key"
      model: "llama3-8b"
cron:
  store: sqlite
  timezone: UTC
logger:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, "test bot", cfg.Agent.SystemPrompt)
	assert.Equal(t, "sqlite", cfg.Cron.Store)
	p, ok := cfg.Provider("groq")
	require.True(t, ok)
	assert.Equal(t, "test-key", p.APIKey)
	// untouched sections keep their defaults
	assert.Equal(t, time.Second, cfg.Cron.PollInterval)
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	path := writeConfig(t, "agent:\n  max_iterations: 3\n")
	_, err := Load(path)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "version 0 is unsupported")
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "version: 1\n")
	require.NoError(t, os.Chmod(path, 0o666))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "version: [1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
	assert.Contains(t, err.Error(), "parse "+path)
}

func TestLoadUnreadable(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHASINGCLAW_LLM_DEFAULT_PROVIDER", "ollama")
	t.Setenv("CHASINGCLAW_LOG_LEVEL", "debug")
	t.Setenv("CHASINGCLAW_AGENT_MAX_ITERATIONS", "3")
	t.Setenv("CHASINGCLAW_TOOLS_RESTRICT_TO_WORKSPACE", "false")
	t.Setenv("CHASINGCLAW_TOOLS_EXEC_DENY_PATTERNS", "rm -rf, shutdown ,")
	t.Setenv("CHASINGCLAW_WEB_SEARCH_API_KEY", "brave-key")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "ollama", cfg.LLM.DefaultProvider)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.False(t, cfg.Tools.RestrictToWorkspace)
	assert.Equal(t, []string{"rm -rf", "shutdown"}, cfg.Tools.Exec.DenyPatterns)
	assert.Equal(t, "brave-key", cfg.Tools.WebSearch.APIKey)
	assert.True(t, cfg.Tools.WebSearch.Enabled)
}

func TestEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("CHASINGCLAW_LLM_PROVIDER_OPENAI_API_KEY", "sk-env")
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "openai"}}
	ApplyEnvOverrides(cfg)
	assert.Equal(t, "sk-env", cfg.LLM.Providers[0].APIKey)
}

func TestEnvOverridesIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("CHASINGCLAW_AGENT_MAX_ITERATIONS", "-4")
	t.Setenv("CHASINGCLAW_TOOLS_EXEC_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 20, cfg.Agent.MaxIterations)
	assert.Equal(t, 60*time.Second, cfg.Tools.Exec.Timeout)
}

func TestEncryptDecryptValue(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, enc, "sk-secret")

	plain, err := DecryptValue(enc, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)

	_, err = DecryptValue(enc, "wrong")
	assert.Error(t, err)
	_, err = DecryptValue("not-encrypted", "passphrase")
	assert.Error(t, err)
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("sk-live", "pw")
	require.NoError(t, err)
	path := writeConfig(t, `
version: 1
llm:
  default_provider: main
  providers:
    - name: main
      api_key: "enc:`+enc+`"
`)
	t.Setenv("CHASINGCLAW_CONFIG_KEY", "pw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-live", cfg.LLM.Providers[0].APIKey)
}
