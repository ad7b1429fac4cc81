package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"chasingclaw/internal/domain"
)

type greetParams struct {
	Name string `json:"name"`
}

func runGreet(t *testing.T, raw string, fn func(context.Context, trace.Span, greetParams) (any, error)) *domain.ToolResult {
	t.Helper()
	res, err := Execute(context.Background(), "tool.greet", newTestLogger(), json.RawMessage(raw), fn)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestExecuteFormatsResults(t *testing.T) {
	res := runGreet(t, `{"name":"ada"}`, func(_ context.Context, _ trace.Span, p greetParams) (any, error) {
		return map[string]string{"greeting": "hello " + p.Name}, nil
	})
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"greeting":"hello ada"}`, res.Content)

	res = runGreet(t, `{}`, func(context.Context, trace.Span, greetParams) (any, error) {
		return "plain", nil
	})
	assert.Equal(t, "plain", res.Content)

	custom := &domain.ToolResult{Content: "custom", IsError: true}
	res = runGreet(t, `{}`, func(context.Context, trace.Span, greetParams) (any, error) {
		return custom, nil
	})
	assert.Same(t, custom, res)
}

func TestExecuteHandlerError(t *testing.T) {
	res := runGreet(t, `{}`, func(context.Context, trace.Span, greetParams) (any, error) {
		return nil, errors.New("no such file")
	})
	assert.True(t, res.IsError)
	assert.Equal(t, "no such file", res.Content)
}

func TestExecuteInvalidParams(t *testing.T) {
	called := false
	res := runGreet(t, `{broken`, func(context.Context, trace.Span, greetParams) (any, error) {
		called = true
		return "x", nil
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "invalid params")
	assert.False(t, called)
}

func TestExecuteUnmarshalableResult(t *testing.T) {
	res := runGreet(t, `{}`, func(context.Context, trace.Span, greetParams) (any, error) {
		return make(chan int), nil
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "failed to format response")
}
