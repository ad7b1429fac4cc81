package memory

import (
	"context"
	"sync"
	"time"

	"chasingclaw/internal/domain"
)

// CachedMemory wraps a MemoryStore with a per-session TTL cache for
// Retrieve, which runs on every provider call of a turn.
// The cache is invalidated on Store.
type CachedMemory struct {
	inner domain.MemoryStore
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[string]cachedContext
}

type cachedContext struct {
	text      string
	expiresAt time.Time
}

// NewCachedMemory wraps inner with a retrieve cache using the given TTL.
func NewCachedMemory(inner domain.MemoryStore, ttl time.Duration) *CachedMemory {
	return &CachedMemory{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedContext),
	}
}

func (c *CachedMemory) Retrieve(ctx context.Context, sessionKey string) (string, error) {
	c.mu.RLock()
	if cached, ok := c.cache[sessionKey]; ok && c.now().Before(cached.expiresAt) {
		c.mu.RUnlock()
		return cached.text, nil
	}
	c.mu.RUnlock()

	text, err := c.inner.Retrieve(ctx, sessionKey)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[sessionKey] = cachedContext{text: text, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return text, nil
}

func (c *CachedMemory) Store(ctx context.Context, sessionKey, fact string) error {
	err := c.inner.Store(ctx, sessionKey, fact)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedMemory) Name() string { return c.inner.Name() }

// invalidate clears the entire cache; notes are shared across sessions.
func (c *CachedMemory) invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cachedContext)
	c.mu.Unlock()
}

// CacheSize returns the number of cached sessions.
func (c *CachedMemory) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
