package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/tracer"
	"chasingclaw/internal/security"
)

// DefaultDenyPatterns block obviously destructive commands.
var DefaultDenyPatterns = []string{
	`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$|\*)`,
	`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+~`,
	`\b(mkfs|mkfs\.\w+|fdisk|diskpart|format)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd`,
	`\b(shutdown|reboot|poweroff|halt)\b`,
	`:\(\)\s*\{.*\};\s*:`,
}

// absPathPattern finds absolute paths in a command line.
var absPathPattern = regexp.MustCompile(`(?:^|[\s"'=])(/[^\s"'|;&<>()]*)`)

// allowedSystemPaths may appear in commands even under workspace restriction.
var allowedSystemPaths = map[string]bool{
	"/dev/null": true, "/dev/stdout": true, "/dev/stderr": true, "/dev/stdin": true,
}

// ExecOptions configures the exec tool.
type ExecOptions struct {
	Timeout      time.Duration
	DenyPatterns []string // nil means DefaultDenyPatterns
	MaxOutput    int
}

// ExecTool runs shell commands inside the workspace with a timeout and
// captures stdout, stderr and the exit status.
type ExecTool struct {
	backend   ShellBackend
	sandbox   *security.Sandbox
	deny      []*regexp.Regexp
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// NewExecTool compiles the deny patterns and returns the tool.
func NewExecTool(backend ShellBackend, sandbox *security.Sandbox, opts ExecOptions, logger *slog.Logger) (*ExecTool, error) {
	if backend == nil {
		backend = LocalShell{}
	}
	patterns := opts.DenyPatterns
	if patterns == nil {
		patterns = DefaultDenyPatterns
	}
	deny := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", p, err)
		}
		deny = append(deny, re)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = 10000
	}
	return &ExecTool{
		backend:   backend,
		sandbox:   sandbox,
		deny:      deny,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutput,
		logger:    logger,
	}, nil
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Execute a shell command in the workspace and return its output and exit code"
}

func (t *ExecTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command line to run"},
				"working_dir": {"type": "string", "description": "Working directory (optional, defaults to the workspace)"}
			},
			"required": ["command"]
		}`),
	}
}

type execParams struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.exec", t.logger, params,
		func(ctx context.Context, span trace.Span, p execParams) (any, error) {
			if err := RequireField("command", p.Command); err != nil {
				return nil, err
			}
			workDir, err := t.guard(p.Command, p.WorkingDir)
			if err != nil {
				return nil, err
			}

			runCtx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()

			start := time.Now()
			out, err := t.backend.Run(runCtx, p.Command, workDir)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, domain.NewDomainError("ExecTool.Execute", domain.ErrTimeout,
						fmt.Sprintf("command timed out after %s", t.timeout))
				}
				return nil, fmt.Errorf("run command: %w", err)
			}

			span.SetAttributes(tracer.IntAttr("exec.exit_code", out.ExitCode))
			t.logger.Debug("exec completed", "exit_code", out.ExitCode, "duration", time.Since(start))
			return TextResult(t.format(out)), nil
		},
	)
}

// guard applies the deny list and, under workspace restriction, checks the
// working directory and every absolute path in the command.
func (t *ExecTool) guard(command, workingDir string) (string, error) {
	for _, re := range t.deny {
		if re.MatchString(command) {
			return "", domain.NewDomainError("ExecTool.guard", domain.ErrCommandDenied,
				fmt.Sprintf("matches %q", re.String()))
		}
	}

	workDir := t.sandbox.Root()
	if workingDir != "" {
		resolved, err := t.sandbox.ValidatePath(workingDir)
		if err != nil {
			return "", err
		}
		workDir = resolved
	}

	if !t.sandbox.Restricted() {
		return workDir, nil
	}
	if strings.Contains(command, "../") || strings.Contains(command, `..\`) {
		return "", domain.NewDomainError("ExecTool.guard", domain.ErrPathOutsideSandbox,
			"path traversal in command")
	}
	for _, m := range absPathPattern.FindAllStringSubmatch(command, -1) {
		path := m[1]
		if allowedSystemPaths[path] {
			continue
		}
		if _, err := t.sandbox.ValidatePath(path); err != nil {
			return "", err
		}
	}
	return workDir, nil
}

func (t *ExecTool) format(out ShellOutput) string {
	var sb strings.Builder
	sb.WriteString(out.Stdout)
	if out.Stderr != "" {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("STDERR:\n")
		sb.WriteString(out.Stderr)
	}
	if out.ExitCode != 0 {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "Exit code: %d", out.ExitCode)
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return truncate(sb.String(), t.maxOutput)
}
