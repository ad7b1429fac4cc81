package usecase

import (
	"chasingclaw/internal/domain"
)

const missingResultError = "tool call did not produce a result"

// RepairTranscript scans the message history and fixes broken tool chains:
//  1. If an assistant message has tool calls that are not all answered
//     before the next assistant, user or system message, an error tool
//     result is injected for each unanswered call, in call order.
//  2. A tool result that does not answer a pending call is dropped.
//
// Returns a new slice (does not modify the input).
func RepairTranscript(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]domain.Message, 0, len(messages))
	var pending []domain.ToolCall

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleTool:
			idx := pendingIndex(pending, msg.ToolCallID)
			if idx < 0 {
				continue
			}
			pending = append(pending[:idx], pending[idx+1:]...)
			result = append(result, msg)

		case domain.RoleAssistant:
			result = injectMissingResults(result, pending)
			pending = pending[:0]
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					pending = append(pending, tc)
				}
			}
			result = append(result, msg)

		default:
			result = injectMissingResults(result, pending)
			pending = pending[:0]
			result = append(result, msg)
		}
	}

	return injectMissingResults(result, pending)
}

func pendingIndex(pending []domain.ToolCall, id string) int {
	if id == "" {
		return -1
	}
	for i, tc := range pending {
		if tc.ID == id {
			return i
		}
	}
	return -1
}

// injectMissingResults appends an error tool result for each pending call.
func injectMissingResults(msgs []domain.Message, pending []domain.ToolCall) []domain.Message {
	for _, tc := range pending {
		msgs = append(msgs, domain.Message{
			Role:       domain.RoleTool,
			Name:       tc.Name,
			ToolCallID: tc.ID,
			Error:      missingResultError,
		})
	}
	return msgs
}
