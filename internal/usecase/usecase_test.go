package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"chasingclaw/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM replays responses in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []domain.Message
	err       error
	requests  []domain.ChatRequest
	// respond, when set, overrides the script.
	respond func(req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	respond := m.respond
	m.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	if m.err != nil {
		return nil, m.err
	}
	if idx >= len(m.responses) {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"}}, nil
	}
	return &domain.ChatResponse{Message: m.responses[idx]}, nil
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// fakeTools is a ToolExecutor with per-name handlers.
type fakeTools struct {
	mu       sync.Mutex
	handlers map[string]func(args json.RawMessage) domain.ToolResult
	executed []domain.ToolCall
}

func (f *fakeTools) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for name := range f.handlers {
		out = append(out, domain.ToolSchema{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)})
	}
	return out
}

func (f *fakeTools) Execute(_ context.Context, call domain.ToolCall) domain.ToolResult {
	f.mu.Lock()
	f.executed = append(f.executed, call)
	h, ok := f.handlers[call.Name]
	f.mu.Unlock()

	if !ok {
		return domain.ToolResult{ToolCallID: call.ID, IsError: true, Content: domain.ErrToolNotFound.Error()}
	}
	res := h(call.Arguments)
	res.ToolCallID = call.ID
	return res
}

func staticResult(content string) func(json.RawMessage) domain.ToolResult {
	return func(json.RawMessage) domain.ToolResult { return domain.ToolResult{Content: content} }
}

type fakeMemory struct {
	context string
	err     error
}

func (m *fakeMemory) Retrieve(context.Context, string) (string, error) { return m.context, m.err }
func (m *fakeMemory) Store(context.Context, string, string) error      { return nil }
func (m *fakeMemory) Name() string                                     { return "fake" }

type fakeSkills struct {
	skills []domain.Skill
	err    error
}

func (s *fakeSkills) List(context.Context) ([]domain.Skill, error) { return s.skills, s.err }

func newTestSessions(t *testing.T) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	return sm
}

func toolCallMsg(content string, calls ...domain.ToolCall) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: content, ToolCalls: calls}
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}
