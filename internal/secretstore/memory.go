package secretstore

import (
	"context"
	"sync"
)

// MemoryStore keeps secrets in process memory. It is meant for tests and
// one-shot commands; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[memoryKey]map[string]string
}

type memoryKey struct {
	provider string
	secretID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[memoryKey]map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := validateKey(provider, secretID, field); err != nil {
		return "", false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.secrets[memoryKey{provider, secretID}][field]
	return value, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{provider, secretID}
	fields, ok := m.secrets[key]
	if !ok {
		fields = make(map[string]string)
		m.secrets[key] = fields
	}
	fields[field] = value
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, provider, secretID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(provider, secretID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.secrets, memoryKey{provider, secretID})
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
