package secretstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

// DefaultKeyringService prefixes keyring service names.
const DefaultKeyringService = "alexander-uplink"

// fieldIndexAccount lists the fields written under one service, since the
// OS keyring cannot enumerate accounts.
const fieldIndexAccount = "__fields__"

// KeyringStore keeps secrets in the OS keyring (Keychain, Secret Service,
// Windows Credential Manager). Each secret id is a keyring service named
// <service>/<provider>/<secret id> and each field an account.
type KeyringStore struct {
	service string
	logger  zerolog.Logger

	// mu serialises index updates within this process.
	mu sync.Mutex
}

// NewKeyringStore creates a KeyringStore.
func NewKeyringStore(service string, logger zerolog.Logger) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service, logger: logger}
}

func (s *KeyringStore) serviceName(provider, secretID string) string {
	return s.service + "/" + provider + "/" + secretID
}

// Get implements Store.
func (s *KeyringStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := validateKey(provider, secretID, field); err != nil {
		return "", false, err
	}

	value, err := keyring.Get(s.serviceName(provider, secretID), field)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read keyring secret %s: %w", keyString(provider, secretID, field), err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *KeyringStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}
	if field == fieldIndexAccount {
		return ErrInvalidKey
	}

	service := s.serviceName(provider, secretID)
	if err := keyring.Set(service, field, value); err != nil {
		return fmt.Errorf("failed to write keyring secret %s: %w", keyString(provider, secretID, field), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.indexedFields(service)
	if err != nil {
		return err
	}
	if slices.Contains(fields, field) {
		return nil
	}
	fields = append(fields, field)
	slices.Sort(fields)
	if err := keyring.Set(service, fieldIndexAccount, strings.Join(fields, "\n")); err != nil {
		return fmt.Errorf("failed to update keyring index for %s/%s: %w", provider, secretID, err)
	}
	return nil
}

// Delete implements Store.
func (s *KeyringStore) Delete(ctx context.Context, provider, secretID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(provider, secretID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	service := s.serviceName(provider, secretID)
	fields, err := s.indexedFields(service)
	if err != nil {
		return err
	}

	for _, account := range append(fields, fieldIndexAccount) {
		if err := keyring.Delete(service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete keyring secret %s: %w", keyString(provider, secretID, account), err)
		}
	}

	s.logger.Debug().Str("service", service).Int("fields", len(fields)).Msg("deleted keyring secret")
	return nil
}

// Close implements Store.
func (s *KeyringStore) Close() error {
	return nil
}

func (s *KeyringStore) indexedFields(service string) ([]string, error) {
	raw, err := keyring.Get(service, fieldIndexAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index for %s: %w", service, err)
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}

var _ Store = (*KeyringStore)(nil)
