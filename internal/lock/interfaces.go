// Package lock serialises credential refreshes. A single process uses the
// memory locker; hosts sharing a secret store use the Redis locker.
package lock

import (
	"context"
	"time"
)

// Locker defines per-key locking. Locks expire after their TTL so a crashed
// holder cannot block refreshes forever.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock is a convenience wrapper for a specific lock instance.
type Lock struct {
	locker Locker
	key    string
	held   bool
}

// NewLock creates a new Lock instance.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{
		locker: locker,
		key:    key,
		held:   false,
	}
}

// Acquire attempts to acquire the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.locker.Acquire(ctx, l.key, ttl)
	if err != nil {
		return false, err
	}
	l.held = acquired
	return acquired, nil
}

// Release releases the lock.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	_, err := l.locker.Release(ctx, l.key)
	l.held = false
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.held {
		return nil
	}
	extended, err := l.locker.Extend(ctx, l.key, ttl)
	if err != nil {
		return err
	}
	if !extended {
		l.held = false
	}
	return nil
}

// IsHeld returns whether the lock is held.
func (l *Lock) IsHeld() bool {
	return l.held
}

// =============================================================================
// Lock Keys
// =============================================================================

// Keys provides lock key generation.
var Keys = lockKeys{}

type lockKeys struct{}

// CredentialRefresh guards the refresh of one stored secret, such as the SSO
// token or a role credential set.
func (lockKeys) CredentialRefresh(provider, secretID string) string {
	return "lock:refresh:" + provider + ":" + secretID
}

// DeviceLogin guards the interactive device login of a provider.
func (lockKeys) DeviceLogin(provider string) string {
	return "lock:login:" + provider
}

// acquireWithRetry calls acquire up to maxRetries+1 times, waiting
// retryDelay between attempts.
func acquireWithRetry(ctx context.Context, acquire func(context.Context) (bool, error), maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := acquire(ctx)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		// Don't sleep on the last attempt.
		if i < maxRetries {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return false, nil
}
