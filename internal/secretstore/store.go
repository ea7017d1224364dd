// Package secretstore persists credentials keyed by (provider, secret id,
// field). Concurrent writers are last-write-wins.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/prn-tf/alexander-uplink/internal/domain"
)

// Store is a persistent key/value store for secrets.
type Store interface {
	// Get returns the value and true, or "" and false when absent.
	Get(ctx context.Context, provider, secretID, field string) (string, bool, error)

	// Set stores value, replacing any previous one.
	Set(ctx context.Context, provider, secretID, field, value string) error

	// Delete removes every field of secretID.
	Delete(ctx context.Context, provider, secretID string) error

	// Close releases connections held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendKeyring  = "keyring"
)

// ErrInvalidKey indicates an empty provider, secret id or field.
var ErrInvalidKey = errors.New("provider, secret id and field are required")

func validateKey(provider, secretID string, fields ...string) error {
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(secretID) == "" {
		return ErrInvalidKey
	}
	for _, field := range fields {
		if strings.TrimSpace(field) == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

// keyString joins a key for logs and AEAD associated data.
func keyString(provider, secretID, field string) string {
	return provider + "/" + secretID + "/" + field
}

// GetRequired is Get that reports an absent value as domain.ErrSecretMissing.
func GetRequired(ctx context.Context, s Store, provider, secretID, field string) (string, error) {
	value, ok, err := s.Get(ctx, provider, secretID, field)
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return "", fmt.Errorf("%s: %w", keyString(provider, secretID, field), domain.ErrSecretMissing)
	}
	return value, nil
}

// GetFields reads several fields of one secret. Absent fields are left out
// of the map.
func GetFields(ctx context.Context, s Store, provider, secretID string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		value, ok, err := s.Get(ctx, provider, secretID, field)
		if err != nil {
			return nil, err
		}
		if ok {
			out[field] = value
		}
	}
	return out, nil
}

// SetFields writes several fields of one secret. Fields are written in
// sorted order, one at a time.
func SetFields(ctx context.Context, s Store, provider, secretID string, values map[string]string) error {
	for _, field := range slices.Sorted(maps.Keys(values)) {
		if err := s.Set(ctx, provider, secretID, field, values[field]); err != nil {
			return err
		}
	}
	return nil
}
