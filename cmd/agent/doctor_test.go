package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/infra/config"
)

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	assert.Equal(t, StatusWarn, checkConfigFile(path, nil)(nil).Status)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))
	assert.Equal(t, StatusPass, checkConfigFile(path, nil)(nil).Status)

	res := checkConfigFile(path, &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	assert.Equal(t, StatusFail, res.Status)
	assert.NotEmpty(t, res.Fix)
}

func TestCheckLLMAPIKey(t *testing.T) {
	assert.Equal(t, StatusFail, checkLLMAPIKey(nil).Status)
	assert.Equal(t, StatusFail, checkLLMAPIKey(&config.Config{}).Status)

	cfg := &config.Config{}
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "openai", Type: "openai"}}
	assert.Equal(t, StatusFail, checkLLMAPIKey(cfg).Status)

	cfg.LLM.Providers = append(cfg.LLM.Providers, config.ProviderConfig{Name: "local", Type: "ollama"})
	assert.Equal(t, StatusWarn, checkLLMAPIKey(cfg).Status)

	cfg.LLM.Providers[0].APIKey = "sk-test"
	res := checkLLMAPIKey(cfg)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "openai, local")
}

func TestCheckLLMConnectivity(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if auth != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.LLM.DefaultProvider = "main"
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "main", BaseURL: srv.URL + "/v1/", APIKey: "good"}}
	assert.Equal(t, StatusPass, checkLLMConnectivity(cfg).Status)
	assert.Equal(t, "Bearer good", auth)

	cfg.LLM.Providers[0].APIKey = "bad"
	assert.Equal(t, StatusFail, checkLLMConnectivity(cfg).Status)

	cfg.LLM.DefaultProvider = "missing"
	assert.Equal(t, StatusFail, checkLLMConnectivity(cfg).Status)
}

func TestProviderEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/models", providerEndpoint(config.ProviderConfig{}))
	assert.Equal(t, "https://openrouter.ai/api/v1/models", providerEndpoint(config.ProviderConfig{Type: "openrouter"}))
	assert.Equal(t, "http://localhost:11434/v1/models", providerEndpoint(config.ProviderConfig{Type: "ollama"}))
	assert.Equal(t, "http://gpu:8000/v1/models", providerEndpoint(config.ProviderConfig{Type: "vllm", BaseURL: "http://gpu:8000/v1/"}))
}

func TestCheckDirectories(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, StatusPass, checkWorkspace(cfg).Status)
	assert.DirExists(t, cfg.Agent.Workspace)

	res := checkDataDirs(cfg)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "3 data directories")

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Sessions.DataDir = filepath.Join(blocker, "sessions")
	assert.Equal(t, StatusFail, checkDataDirs(cfg).Status)
}

func TestCheckWebSearch(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, "web search disabled", checkWebSearch(cfg).Message)

	cfg.Tools.WebSearch.Enabled = true
	cfg.Tools.WebSearch.Backend = "brave"
	assert.Equal(t, StatusFail, checkWebSearch(cfg).Status)
	cfg.Tools.WebSearch.APIKey = "key"
	assert.Equal(t, StatusPass, checkWebSearch(cfg).Status)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()
	cfg.Tools.WebSearch.Backend = "searxng"
	cfg.Tools.WebSearch.BaseURL = srv.URL
	assert.Equal(t, StatusPass, checkWebSearch(cfg).Status)
}

func TestCheckHTTPAddr(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, StatusPass, checkHTTPAddr(cfg).Status)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	cfg.Channels.HTTP.Addr = ln.Addr().String()
	assert.Equal(t, StatusWarn, checkHTTPAddr(cfg).Status)

	cfg.Channels.HTTP.Enabled = false
	assert.Equal(t, StatusPass, checkHTTPAddr(cfg).Status)
}

func TestRunDoctor(t *testing.T) {
	pass := Check{Name: "ok", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }}
	warn := Check{Name: "meh", Fn: func(*config.Config) CheckResult {
		return CheckResult{Status: StatusWarn, Message: "hmm", Fix: "do it"}
	}}
	fail := Check{Name: "bad", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail, Message: "broken"} }}

	var out bytes.Buffer
	require.NoError(t, runDoctor(&out, nil, []Check{pass, warn}))
	assert.Contains(t, out.String(), "[PASS] ok: fine")
	assert.Contains(t, out.String(), "Fix: do it")
	assert.Contains(t, out.String(), "1 passed, 1 warnings, 0 failed")

	out.Reset()
	err := runDoctor(&out, nil, []Check{pass, fail})
	require.Error(t, err)
	assert.Contains(t, out.String(), "[FAIL] bad: broken")
}

func TestDoctorNilConfig(t *testing.T) {
	for _, fn := range []func(*config.Config) CheckResult{
		checkLLMAPIKey, checkLLMConnectivity, checkWorkspace, checkDataDirs,
		checkToolDependencies, checkWebSearch, checkHTTPAddr,
	} {
		assert.Equal(t, StatusFail, fn(nil).Status)
	}
}
