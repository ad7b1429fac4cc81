package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chasingclaw/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var noConfig = CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and the environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			checks := []Check{
				{Name: "Config file", Fn: checkConfigFile(path, err)},
				{Name: "LLM API key", Fn: checkLLMAPIKey},
				{Name: "LLM connectivity", Fn: checkLLMConnectivity},
				{Name: "Workspace", Fn: checkWorkspace},
				{Name: "Data directories", Fn: checkDataDirs},
				{Name: "Tool dependencies", Fn: checkToolDependencies},
				{Name: "Web search", Fn: checkWebSearch},
				{Name: "HTTP channel", Fn: checkHTTPAddr},
			}
			return runDoctor(cmd.OutOrStdout(), cfg, checks)
		},
	}
}

// runDoctor executes the checks and reports results. It fails when any
// check fails.
func runDoctor(w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "chasingclaw doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// checkConfigFile reports whether the config file exists and loaded.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check the YAML syntax and the fields named above",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create one with at least `version: 1` and an llm.providers entry",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkLLMAPIKey verifies the configured providers carry credentials.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider under llm.providers",
		}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		switch {
		case p.APIKey != "":
			withKey = append(withKey, p.Name)
		case p.Type == "ollama" || p.Type == "vllm":
			// Local servers need no key.
			withKey = append(withKey, p.Name)
		default:
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set CHASINGCLAW_LLM_PROVIDER_<NAME>_API_KEY or put it in .env",
		}
	}
	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("credentials ready for: %s", strings.Join(withKey, ", "))}
}

// checkLLMConnectivity probes the default provider's models endpoint.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	provider, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	endpoint := providerEndpoint(provider)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid endpoint %s: %v", endpoint, err)}
	}
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the base_url, your network and firewall settings",
		}
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s rejected the API key (HTTP %d)", provider.Name, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns the models listing URL for an OpenAI-compatible provider.
func providerEndpoint(p config.ProviderConfig) string {
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		switch p.Type {
		case "openrouter":
			base = "https://openrouter.ai/api/v1"
		case "ollama":
			base = "http://localhost:11434/v1"
		case "vllm":
			base = "http://localhost:8000/v1"
		default:
			base = "https://api.openai.com/v1"
		}
	}
	return base + "/models"
}

// checkWorkspace verifies the workspace directory is usable.
func checkWorkspace(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if err := ensureWritable(cfg.Agent.Workspace); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     fmt.Sprintf("mkdir -p %s", cfg.Agent.Workspace),
		}
	}
	mode := "restricted to workspace"
	if !cfg.Tools.RestrictToWorkspace {
		mode = "unrestricted"
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%s)", cfg.Agent.Workspace, mode)}
}

// checkDataDirs verifies the session, cron and memory directories.
func checkDataDirs(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	dirs := []string{cfg.Sessions.DataDir}
	if cfg.Cron.Enabled {
		dirs = append(dirs, cfg.Cron.DataDir)
	}
	if cfg.Memory.Provider == "file" {
		dirs = append(dirs, cfg.Memory.DataDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := ensureWritable(dir); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: err.Error(),
				Fix:     fmt.Sprintf("mkdir -p %s", dir),
			}
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d data directories writable", len(dirs))}
}

// ensureWritable creates dir if needed and probes it with a temp file.
func ensureWritable(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return fmt.Errorf("%s cannot be created: %w", abs, err)
	}
	f, err := os.CreateTemp(abs, ".doctor-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", abs, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkToolDependencies checks for binaries the tools shell out to.
func checkToolDependencies(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if !cfg.Tools.Exec.Enabled {
		return CheckResult{Status: StatusPass, Message: "exec tool disabled"}
	}
	if _, err := exec.LookPath("sh"); err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "sh not found (needed for the exec tool)",
			Fix:     "Install a POSIX shell or set tools.exec.enabled: false",
		}
	}
	return CheckResult{Status: StatusPass, Message: "sh found"}
}

// checkWebSearch verifies the search backend settings and, for SearXNG,
// that the instance answers.
func checkWebSearch(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	ws := cfg.Tools.WebSearch
	if !ws.Enabled {
		return CheckResult{Status: StatusPass, Message: "web search disabled"}
	}
	if ws.Backend != "searxng" {
		if ws.APIKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "brave backend has no API key",
				Fix:     "Set CHASINGCLAW_WEB_SEARCH_API_KEY",
			}
		}
		return CheckResult{Status: StatusPass, Message: "brave backend configured"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ws.BaseURL, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid SearXNG URL: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("SearXNG not reachable at %s: %v", ws.BaseURL, err),
			Fix:     "Start SearXNG or update tools.web_search.base_url",
		}
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("SearXNG responded with status %d at %s", resp.StatusCode, ws.BaseURL),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("SearXNG reachable at %s", ws.BaseURL)}
}

// checkHTTPAddr verifies the HTTP channel can bind its address.
func checkHTTPAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	hc := cfg.Channels.HTTP
	if !hc.Enabled {
		return CheckResult{Status: StatusPass, Message: "http channel disabled"}
	}
	ln, err := net.Listen("tcp", hc.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot bind %s: %v", hc.Addr, err),
			Fix:     "Stop the process using the port or change channels.http.addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s available", hc.Addr)}
}
