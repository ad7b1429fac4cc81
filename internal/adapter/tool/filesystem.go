package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/security"
)

const maxReadBytes = 256 * 1024

// FilesystemTool reads, writes, edits and lists files. Every path goes
// through the sandbox first, so escapes fail before any I/O happens.
type FilesystemTool struct {
	backend FilesystemBackend
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewFilesystemTool creates a filesystem tool. A nil backend means the host filesystem.
func NewFilesystemTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *FilesystemTool {
	if backend == nil {
		backend = LocalFilesystem{}
	}
	return &FilesystemTool{backend: backend, sandbox: sandbox, logger: logger}
}

func (t *FilesystemTool) Name() string { return "filesystem" }
func (t *FilesystemTool) Description() string {
	return "Read, write, edit, and list files. Relative paths resolve against the workspace."
}

func (t *FilesystemTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["read", "write", "edit", "list"], "description": "The file operation to perform"},
				"path": {"type": "string", "description": "File or directory path"},
				"content": {"type": "string", "description": "Content to write (write action)"},
				"old_text": {"type": "string", "description": "Exact text to replace; must occur exactly once (edit action)"},
				"new_text": {"type": "string", "description": "Replacement text (edit action)"}
			},
			"required": ["action"]
		}`),
	}
}

type filesystemParams struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text,omitempty"`
}

func (t *FilesystemTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.filesystem", t.logger, params,
		Dispatch(func(p filesystemParams) string { return p.Action }, ActionMap[filesystemParams]{
			"read":  t.readFile,
			"write": t.writeFile,
			"edit":  t.editFile,
			"list":  t.listDir,
		}),
	)
}

func (t *FilesystemTool) resolve(path string) (string, error) {
	if path == "" || path == "." {
		return t.sandbox.Root(), nil
	}
	return t.sandbox.ValidatePath(path)
}

func (t *FilesystemTool) readFile(_ context.Context, p filesystemParams) (any, error) {
	if err := RequireField("path", p.Path); err != nil {
		return nil, err
	}
	resolved, err := t.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	data, err := t.backend.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	t.logger.Debug("filesystem read", "path", resolved, "size", len(data))
	return TextResult(truncate(string(data), maxReadBytes)), nil
}

func (t *FilesystemTool) writeFile(_ context.Context, p filesystemParams) (any, error) {
	if err := RequireField("path", p.Path); err != nil {
		return nil, err
	}
	resolved, err := t.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	if err := t.backend.WriteFile(resolved, []byte(p.Content)); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	t.logger.Debug("filesystem write", "path", resolved, "size", len(p.Content))
	return TextResult(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path)), nil
}

func (t *FilesystemTool) editFile(_ context.Context, p filesystemParams) (any, error) {
	if err := ValidateAll(RequireField("path", p.Path), RequireField("old_text", p.OldText)); err != nil {
		return nil, err
	}
	resolved, err := t.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	data, err := t.backend.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	content := string(data)

	switch n := strings.Count(content, p.OldText); n {
	case 0:
		return nil, fmt.Errorf("old_text not found in %s", p.Path)
	case 1:
	default:
		return nil, fmt.Errorf("old_text occurs %d times in %s; add surrounding context to make it unique", n, p.Path)
	}

	updated := strings.Replace(content, p.OldText, p.NewText, 1)
	if err := t.backend.WriteFile(resolved, []byte(updated)); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	t.logger.Debug("filesystem edit", "path", resolved)
	return TextResult("edited " + p.Path), nil
}

func (t *FilesystemTool) listDir(_ context.Context, p filesystemParams) (any, error) {
	resolved, err := t.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	entries, err := t.backend.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	if len(entries) == 0 {
		return TextResult("(empty directory)"), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "%s\n", entry.Name())
		}
	}
	return TextResult(sb.String()), nil
}

func parentDir(path string) string { return filepath.Dir(path) }
