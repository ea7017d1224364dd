package secretstore

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-uplink/internal/cache/memory"
)

type cachedValue struct {
	value string
	ok    bool
}

// CachedStore keeps recent reads of a remote backend in process memory.
// Writes and deletes through it invalidate the affected entries; changes
// made by other processes become visible after ttl.
type CachedStore struct {
	inner Store
	cache *memory.Cache[cachedValue]
	ttl   time.Duration
}

// NewCachedStore wraps inner with a read cache of the given ttl.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: memory.NewCache[cachedValue](time.Minute),
		ttl:   ttl,
	}
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	key := keyString(provider, secretID, field)
	if v, ok := s.cache.Get(key); ok {
		return v.value, v.ok, nil
	}

	value, ok, err := s.inner.Get(ctx, provider, secretID, field)
	if err != nil {
		return "", false, err
	}
	s.cache.Set(key, cachedValue{value: value, ok: ok}, s.ttl)
	return value, ok, nil
}

// Set implements Store. The entry is dropped again after the write so a
// read racing the write cannot keep the old value cached.
func (s *CachedStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	key := keyString(provider, secretID, field)
	s.cache.Delete(key)
	defer s.cache.Delete(key)
	return s.inner.Set(ctx, provider, secretID, field, value)
}

// Delete implements Store.
func (s *CachedStore) Delete(ctx context.Context, provider, secretID string) error {
	prefix := keyString(provider, secretID, "")
	s.cache.DeletePrefix(prefix)
	defer s.cache.DeletePrefix(prefix)
	return s.inner.Delete(ctx, provider, secretID)
}

// Close implements Store.
func (s *CachedStore) Close() error {
	s.cache.Stop()
	return s.inner.Close()
}

var _ Store = (*CachedStore)(nil)
