package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker using in-memory locks.
// The locks are NOT shared across process restarts or multiple instances.
// Expired entries are dropped when their key is next touched.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time
}

// lockEntry represents a single lock.
type lockEntry struct {
	expiresAt time.Time
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return NewMemoryLockerWithClock(time.Now)
}

// NewMemoryLockerWithClock creates a locker that reads time from now.
func NewMemoryLockerWithClock(now func() time.Time) *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*lockEntry),
		now:   now,
	}
}

// live returns the unexpired entry for key. Callers hold m.mu.
func (m *MemoryLocker) live(key string) (*lockEntry, bool) {
	entry, exists := m.locks[key]
	if !exists {
		return nil, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.locks, key)
		return nil, false
	}
	return entry, true
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); held {
		return false, nil
	}

	m.locks[key] = &lockEntry{expiresAt: m.now().Add(ttl)}
	return true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return acquireWithRetry(ctx, func(ctx context.Context) (bool, error) {
		return m.Acquire(ctx, key, ttl)
	}, maxRetries, retryDelay)
}

// Release releases a lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); !held {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend extends the TTL of a held lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, held := m.live(key)
	if !held {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, held := m.live(key)
	return held, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
