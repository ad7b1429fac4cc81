package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serializes turns per session key. Turns on one key run one
// at a time; distinct keys never contend.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewSessionLocker creates a new session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{
		locks: make(map[string]*keyMutex),
	}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// unlock function must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sl.mu.Lock()
	km, ok := sl.locks[key]
	if !ok {
		km = &keyMutex{}
		sl.locks[key] = km
	}
	km.refCount++
	sl.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		km.mu.Lock()
		close(acquired)
	}()

	release := func() {
		km.mu.Unlock()
		sl.mu.Lock()
		km.refCount--
		if km.refCount == 0 {
			delete(sl.locks, key)
		}
		sl.mu.Unlock()
	}

	select {
	case <-acquired:
		var once sync.Once
		return func() { once.Do(release) }, nil
	case <-ctx.Done():
		// The waiter still acquires eventually; hand the lock straight back.
		go func() {
			<-acquired
			release()
		}()
		return nil, fmt.Errorf("session lock %q: %w", key, ctx.Err())
	}
}

// ActiveCount returns the number of keys with held or pending locks.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
