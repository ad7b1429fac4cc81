package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chasingclaw/internal/domain"
)

// Registry holds named tools and dispatches tool calls to them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
// If logger is non-nil, tools are wrapped with schema validation on Register;
// compilation errors are logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns error if name already registered.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns all tool schemas for LLM function-calling, sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Execute runs one tool call. It never retries and never returns an error:
// unknown tools, handler errors and panics all become an error result that
// references the call id.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) (res domain.ToolResult) {
	res.ToolCallID = call.ID

	t, err := r.Get(call.Name)
	if err != nil {
		res.IsError = true
		res.Content = err.Error()
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			if r.logger != nil {
				r.logger.Error("tool panicked", "tool", call.Name, "panic", p)
			}
			res.IsError = true
			res.Content = domain.NewDomainError("tool."+call.Name, domain.ErrToolFailure, fmt.Sprint(p)).Error()
		}
	}()

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		res.IsError = true
		res.Content = domain.NewDomainError("tool."+call.Name, domain.ErrToolFailure, err.Error()).Error()
		return res
	}
	if out != nil {
		res.Content = out.Content
		res.IsError = out.IsError
	}
	return res
}
