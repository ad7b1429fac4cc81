package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"chasingclaw/internal/domain"
)

// MemoryTool lets the model keep facts across sessions.
type MemoryTool struct {
	store  domain.MemoryStore
	logger *slog.Logger
}

// NewMemoryTool creates a memory tool backed by store.
func NewMemoryTool(store domain.MemoryStore, logger *slog.Logger) *MemoryTool {
	return &MemoryTool{store: store, logger: logger}
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string {
	return "Remember a fact for future conversations, or recall what has been remembered."
}

func (t *MemoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["remember", "recall"]},
				"fact": {"type": "string", "description": "The fact to remember (remember)"}
			},
			"required": ["action"]
		}`),
	}
}

type memoryParams struct {
	Action string `json:"action"`
	Fact   string `json:"fact"`
}

func (t *MemoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory", t.logger, params,
		Dispatch(func(p memoryParams) string { return p.Action }, ActionMap[memoryParams]{
			"remember": t.handleRemember,
			"recall":   t.handleRecall,
		}),
	)
}

func (t *MemoryTool) handleRemember(ctx context.Context, p memoryParams) (any, error) {
	if err := ValidateAll(RequireField("fact", p.Fact), ValidateMaxLength("fact", p.Fact, 2000)); err != nil {
		return nil, err
	}
	if err := t.store.Store(ctx, domain.SessionKeyFromContext(ctx), p.Fact); err != nil {
		return nil, err
	}
	return "Remembered.", nil
}

func (t *MemoryTool) handleRecall(ctx context.Context, _ memoryParams) (any, error) {
	text, err := t.store.Retrieve(ctx, domain.SessionKeyFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if text == "" {
		return "Nothing remembered yet.", nil
	}
	return text, nil
}
