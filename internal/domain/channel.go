package domain

import (
	"context"
	"time"
)

// Channel names produced by the built-in adapters.
const (
	ChannelWebUI   = "webui"
	ChannelWebhook = "webhook"
	ChannelCron    = "cron"
	ChannelCLI     = "cli"
)

// SessionKey builds the composite key that scopes a conversation.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// InboundMessage is a message received from a channel (user input).
type InboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Key returns the explicit session key or derives one from channel and chat id.
func (m InboundMessage) Key() string {
	if m.SessionKey != "" {
		return m.SessionKey
	}
	return SessionKey(m.Channel, m.ChatID)
}

// OutboundMessage is a message sent to a channel (agent response).
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key"`
	Content    string            `json:"content"`
	IsError    bool              `json:"is_error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ReplyTo builds an outbound envelope addressed back to the sender of in.
func ReplyTo(in InboundMessage, content string) OutboundMessage {
	return OutboundMessage{
		Channel:    in.Channel,
		ChatID:     in.ChatID,
		SessionKey: in.Key(),
		Content:    content,
		Timestamp:  time.Now(),
		Metadata:   in.Metadata,
	}
}

// MessageHandler processes one inbound message and produces the reply.
type MessageHandler interface {
	Handle(ctx context.Context, msg InboundMessage) (OutboundMessage, error)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg InboundMessage) (OutboundMessage, error)

// Handle calls f(ctx, msg).
func (f MessageHandlerFunc) Handle(ctx context.Context, msg InboundMessage) (OutboundMessage, error) {
	return f(ctx, msg)
}

// Channel is the interface for user-facing I/O adapters.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
}
