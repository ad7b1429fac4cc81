package memory

import "context"

// NoopMemory stores nothing and contributes no context.
type NoopMemory struct{}

// NewNoopMemory creates a noop memory store.
func NewNoopMemory() *NoopMemory { return &NoopMemory{} }

func (n *NoopMemory) Retrieve(_ context.Context, _ string) (string, error) { return "", nil }
func (n *NoopMemory) Store(_ context.Context, _, _ string) error          { return nil }
func (n *NoopMemory) Name() string                                       { return "noop" }
