package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chasingclaw/internal/domain"
)

const defaultIdentity = "You are chasingclaw, a helpful AI assistant. " +
	"You can use tools to read and write files, run commands, search the web and schedule tasks."

// ContextConfig holds the prompt settings of one agent.
type ContextConfig struct {
	SystemPrompt string
	Model        string
	MaxHistory   int
	MaxTokens    int
	Temperature  float64
	Workspace    string
}

// ContextBuilder assembles the provider request for one iteration: system
// prompt, trimmed history and tool schemas.
type ContextBuilder struct {
	cfg    ContextConfig
	memory domain.MemoryStore
	skills domain.SkillsLoader
	logger *slog.Logger
	now    func() time.Time
}

// NewContextBuilder creates a context builder. memory and skills may be nil.
func NewContextBuilder(cfg ContextConfig, memory domain.MemoryStore, skills domain.SkillsLoader, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{
		cfg:    cfg,
		memory: memory,
		skills: skills,
		logger: logger,
		now:    time.Now,
	}
}

// Build returns the chat request for the given session history.
func (cb *ContextBuilder) Build(ctx context.Context, sessionKey string, history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	hist := cb.truncateHistory(RepairTranscript(history))

	messages := make([]domain.Message, 0, 1+len(hist))
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   cb.SystemPrompt(ctx, sessionKey),
		Timestamp: cb.now(),
	})
	messages = append(messages, hist...)

	return domain.ChatRequest{
		Model:       cb.cfg.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   cb.cfg.MaxTokens,
		Temperature: cb.cfg.Temperature,
	}
}

// SystemPrompt renders the system message. Memory and skill lookups that
// fail are logged and left out.
func (cb *ContextBuilder) SystemPrompt(ctx context.Context, sessionKey string) string {
	var sb strings.Builder

	identity := cb.cfg.SystemPrompt
	if identity == "" {
		identity = defaultIdentity
	}
	sb.WriteString(identity)

	fmt.Fprintf(&sb, "\n\n## Current Time\n%s", cb.now().Format("2006-01-02 15:04 (Monday) MST"))
	if cb.cfg.Workspace != "" {
		fmt.Fprintf(&sb, "\n\n## Workspace\nYour workspace is at: %s", cb.cfg.Workspace)
	}

	if cb.memory != nil {
		mem, err := cb.memory.Retrieve(ctx, sessionKey)
		if err != nil {
			cb.logger.Warn("memory retrieve failed", "session", sessionKey, "error", err)
		} else if mem = strings.TrimSpace(mem); mem != "" {
			sb.WriteString("\n\n# Memory\n\n")
			sb.WriteString(mem)
		}
	}

	if cb.skills != nil {
		skills, err := cb.skills.List(ctx)
		if err != nil {
			cb.logger.Warn("skills list failed", "error", err)
		} else if len(skills) > 0 {
			sb.WriteString("\n\n")
			sb.WriteString(formatSkills(skills))
		}
	}

	return sb.String()
}

// formatSkills lists every skill by name and description; always-on skills
// are inlined in full.
func formatSkills(skills []domain.Skill) string {
	var sb strings.Builder
	sb.WriteString("## Available Skills\n")
	sb.WriteString("Load a skill's instructions with the skill tool before following it.\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "- **%s**: %s\n", s.Name, s.Description)
	}
	for _, s := range skills {
		if !s.Always || strings.TrimSpace(s.Body) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n### Skill: %s\n%s\n", s.Name, strings.TrimSpace(s.Body))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (cb *ContextBuilder) truncateHistory(history []domain.Message) []domain.Message {
	if cb.cfg.MaxHistory <= 0 || len(history) <= cb.cfg.MaxHistory {
		return history
	}

	// [assistant(tool_calls), tool...] groups are never split.
	groups := groupMessages(history)

	var kept [][]domain.Message
	total := 0
	for i := len(groups) - 1; i >= 0; i-- {
		groupLen := len(groups[i])
		if total+groupLen > cb.cfg.MaxHistory && total > 0 {
			break
		}
		kept = append(kept, groups[i])
		total += groupLen
	}

	result := make([]domain.Message, 0, total)
	for i := len(kept) - 1; i >= 0; i-- {
		result = append(result, kept[i]...)
	}
	return result
}

// groupMessages partitions messages into atomic groups. An assistant
// message with tool calls and the tool results that follow it form one
// group; every other message is its own group.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		if msg.HasToolCalls() {
			group := []domain.Message{msg}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				group = append(group, msgs[j])
				j++
			}
			groups = append(groups, group)
			i = j
		} else {
			groups = append(groups, []domain.Message{msg})
			i++
		}
	}
	return groups
}
