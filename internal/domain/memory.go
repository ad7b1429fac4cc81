package domain

import "context"

// MemoryStore supplies long-term context to the prompt and records facts
// the agent decides to keep.
type MemoryStore interface {
	// Retrieve returns supplementary context for the session, or "" when none.
	Retrieve(ctx context.Context, sessionKey string) (string, error)
	// Store persists a fact learned during the session.
	Store(ctx context.Context, sessionKey, fact string) error
	Name() string
}
