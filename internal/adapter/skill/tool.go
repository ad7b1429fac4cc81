package skill

import (
	"context"
	"encoding/json"
	"log/slog"

	"chasingclaw/internal/domain"
)

// Tool lets the model load the full instructions of a skill listed in
// its system prompt.
type Tool struct {
	loader *FileLoader
	logger *slog.Logger
}

// NewTool creates the skill tool.
func NewTool(loader *FileLoader, logger *slog.Logger) *Tool {
	return &Tool{loader: loader, logger: logger}
}

// Name implements domain.Tool.
func (t *Tool) Name() string { return "skill" }

// Description implements domain.Tool.
func (t *Tool) Description() string {
	return "Load the full instructions of a skill by name before using it."
}

// Schema implements domain.Tool.
func (t *Tool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {
					"type": "string",
					"description": "The skill name as listed in the system prompt"
				}
			},
			"required": ["name"]
		}`),
	}
}

// Execute implements domain.Tool.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{Content: "invalid parameters: " + err.Error(), IsError: true}, nil
	}

	s, err := t.loader.Get(ctx, p.Name)
	if err != nil {
		t.logger.Warn("skill lookup failed", "skill", p.Name, "error", err)
		return &domain.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if s.Body == "" {
		return &domain.ToolResult{Content: "(skill has no instructions)"}, nil
	}
	return &domain.ToolResult{Content: s.Body}, nil
}
