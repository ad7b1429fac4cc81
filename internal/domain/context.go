package domain

import "context"

type ctxKey string

const sessionCtxKey ctxKey = "session_key"

// ContextWithSessionKey returns a new context carrying the session key of the current turn.
func ContextWithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, key)
}

// SessionKeyFromContext extracts the session key from the context.
// Returns empty string if not set.
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}
