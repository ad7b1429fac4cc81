package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/tracer"
)

const (
	defaultMaxIterations = 20
	truncationFormat     = "[truncated: reached max iterations (%d)]"
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM             domain.LLMProvider
	Tools           domain.ToolExecutor
	Sessions        *SessionManager
	ContextBuilder  *ContextBuilder
	Locker          *SessionLocker // nil = a private locker
	Logger          *slog.Logger
	MaxIterations   int
	ProviderTimeout time.Duration // per provider call; 0 = none
}

// TurnResult describes the outcome of one turn.
type TurnResult struct {
	Content    string
	Truncated  bool
	Iterations int
	ToolCalls  int
}

// Text renders the reply, appending the truncation marker when the turn hit
// its iteration bound.
func (r TurnResult) Text(maxIterations int) string {
	if !r.Truncated {
		return r.Content
	}
	marker := fmt.Sprintf(truncationFormat, maxIterations)
	if strings.TrimSpace(r.Content) == "" {
		return marker
	}
	return r.Content + "\n\n" + marker
}

// Agent drives the think, call tool, observe loop for one inbound message
// at a time per session key.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = defaultMaxIterations
	}
	if deps.Locker == nil {
		deps.Locker = NewSessionLocker()
	}
	return &Agent{deps: deps}
}

// MaxIterations returns the iteration bound of a turn.
func (a *Agent) MaxIterations() int { return a.deps.MaxIterations }

// ProcessDirect runs one turn and returns the reply text.
func (a *Agent) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	res, err := a.ProcessTurn(ctx, domain.InboundMessage{
		Channel:    channel,
		ChatID:     chatID,
		SessionKey: sessionKey,
		Content:    content,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return "", err
	}
	return res.Text(a.deps.MaxIterations), nil
}

// Handle implements domain.MessageHandler.
func (a *Agent) Handle(ctx context.Context, in domain.InboundMessage) (domain.OutboundMessage, error) {
	res, err := a.ProcessTurn(ctx, in)
	if err != nil {
		return domain.OutboundMessage{}, err
	}
	return domain.ReplyTo(in, res.Text(a.deps.MaxIterations)), nil
}

// ProcessTurn appends the inbound message to its session and iterates
// provider calls and tool executions until the model answers without tool
// calls or the iteration bound is reached. Tool failures are fed back to the
// model; provider failures abort the turn.
func (a *Agent) ProcessTurn(ctx context.Context, in domain.InboundMessage) (result TurnResult, err error) {
	key := in.Key()
	if in.SessionKey == "" && (in.Channel == "" || in.ChatID == "") {
		return result, domain.NewDomainError("Agent.ProcessTurn", domain.ErrInvalidInput, "session key is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return result, domain.NewDomainError("Agent.ProcessTurn", domain.ErrInvalidInput, "message content is empty")
	}

	ctx, span := tracer.StartSpan(ctx, "agent.turn",
		tracer.StringAttr("session.key", key),
		tracer.StringAttr("channel", in.Channel),
	)
	defer func() {
		span.SetAttributes(
			tracer.IntAttr("turn.iterations", result.Iterations),
			tracer.BoolAttr("turn.truncated", result.Truncated),
		)
		tracer.End(span, err)
	}()

	unlock, err := a.deps.Locker.Lock(ctx, key)
	if err != nil {
		return result, domain.NewDomainError("Agent.ProcessTurn", err, "session lock")
	}
	defer unlock()

	ctx = domain.ContextWithSessionKey(ctx, key)
	log := a.deps.Logger.With("session", key)

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := a.deps.Sessions.Append(key, domain.Message{
		Role:      domain.RoleUser,
		Content:   in.Content,
		Timestamp: ts,
	}); err != nil {
		return result, err
	}

	seenIDs := make(map[string]bool)
	var lastContent string

	for iter := 1; iter <= a.deps.MaxIterations; iter++ {
		result.Iterations = iter

		history, err := a.deps.Sessions.History(key)
		if err != nil {
			return result, err
		}
		req := a.deps.ContextBuilder.Build(ctx, key, history, a.deps.Tools.Schemas())

		resp, err := a.callLLM(ctx, req, iter)
		if err != nil {
			log.Warn("provider call failed", "iteration", iter, "error", err)
			return result, err
		}

		msg := resp.Message
		msg.Role = domain.RoleAssistant
		msg.Timestamp = time.Now()
		assignToolCallIDs(msg.ToolCalls, iter, seenIDs)

		if err := a.deps.Sessions.Append(key, msg); err != nil {
			return result, err
		}
		if strings.TrimSpace(msg.Content) != "" {
			lastContent = msg.Content
		}

		log.Debug("llm response",
			"iteration", iter,
			"tool_calls", len(msg.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(msg.ToolCalls) == 0 {
			result.Content = msg.Content
			log.Info("turn completed", "iterations", iter, "tool_calls", result.ToolCalls)
			return result, nil
		}

		result.ToolCalls += len(msg.ToolCalls)
		if err := a.deps.Sessions.Append(key, a.executeTools(ctx, msg.ToolCalls)...); err != nil {
			return result, err
		}
	}

	result.Truncated = true
	result.Content = lastContent
	log.Warn("turn truncated", "max_iterations", a.deps.MaxIterations, "tool_calls", result.ToolCalls)
	return result, nil
}

// callLLM performs one provider call under the per-call deadline. Every
// failure is reported as ErrProviderError; nothing is retried here.
func (a *Agent) callLLM(ctx context.Context, req domain.ChatRequest, iter int) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.llm_call",
		tracer.StringAttr("llm.provider", a.deps.LLM.Name()),
		tracer.IntAttr("iteration", iter),
	)

	if a.deps.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deps.ProviderTimeout)
		defer cancel()
	}

	resp, err := a.deps.LLM.Chat(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrProviderError) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderError, err)
		}
		err = domain.NewDomainError("Agent.callLLM", err, a.deps.LLM.Name())
		tracer.End(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("llm.total_tokens", resp.Usage.TotalTokens))
	tracer.End(span, nil)
	return resp, nil
}

// executeTools runs every call concurrently and returns the tool messages
// in call order.
func (a *Agent) executeTools(ctx context.Context, calls []domain.ToolCall) []domain.Message {
	msgs := make([]domain.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			msgs[idx] = a.executeTool(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return msgs
}

func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		tracer.StringAttr("tool.name", call.Name),
		tracer.StringAttr("tool.call_id", call.ID),
	)
	defer span.End()

	res := a.deps.Tools.Execute(ctx, call)

	msg := domain.Message{
		Role:       domain.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}
	if res.IsError {
		msg.Error = res.Content
		if msg.Error == "" {
			msg.Error = "tool failed without a message"
		}
		tracer.RecordError(span, fmt.Errorf("%w: %s", domain.ErrToolFailure, msg.Error))
		a.deps.Logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", msg.Error)
		return msg
	}
	msg.Content = res.Content
	tracer.SetOK(span)
	return msg
}

// assignToolCallIDs gives every call an id unique within the turn.
func assignToolCallIDs(calls []domain.ToolCall, iter int, seen map[string]bool) {
	for i := range calls {
		id := calls[i].ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("call_%d_%d", iter, i)
			for n := 1; seen[id]; n++ {
				id = fmt.Sprintf("call_%d_%d_%d", iter, i, n)
			}
			calls[i].ID = id
		}
		seen[id] = true
	}
}
