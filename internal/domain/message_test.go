package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolMessageJSON(t *testing.T) {
	msg := Message{
		Role:       RoleTool,
		Name:       "filesystem",
		ToolCallID: "call_1",
		Error:      "path is outside sandbox boundary",
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_call_id":"call_1"`)
	assert.Contains(t, string(data), `"error":"path is outside sandbox boundary"`)
	assert.NotContains(t, string(data), "tool_calls")
}

func TestHasToolCalls(t *testing.T) {
	assert.False(t, Message{Role: RoleAssistant, Content: "done"}.HasToolCalls())
	assert.True(t, Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "exec"}}}.HasToolCalls())
	assert.False(t, Message{Role: RoleUser, ToolCalls: []ToolCall{{ID: "a"}}}.HasToolCalls())
}
