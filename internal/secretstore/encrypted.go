package secretstore

import (
	"context"
	"fmt"

	"github.com/prn-tf/alexander-uplink/internal/pkg/crypto"
)

// encryptionKeyInfo separates the secret store key from other keys derived
// from the same passphrase.
const encryptionKeyInfo = "alexander-uplink/secretstore"

// EncryptedStore seals values with AES-256-GCM before handing them to the
// wrapped store. The key triple is the associated data, so a ciphertext
// moved to another slot does not open.
type EncryptedStore struct {
	inner Store
	enc   *crypto.Encryptor
}

// NewEncryptedStore wraps inner. key is either 64 hex characters or a
// passphrase.
func NewEncryptedStore(inner Store, key string) (*EncryptedStore, error) {
	raw, err := crypto.ResolveKey(key, encryptionKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid secrets encryption key: %w", err)
	}
	enc, err := crypto.NewEncryptor(raw)
	if err != nil {
		return nil, err
	}
	return &EncryptedStore{inner: inner, enc: enc}, nil
}

// Get implements Store.
func (s *EncryptedStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	sealed, ok, err := s.inner.Get(ctx, provider, secretID, field)
	if err != nil || !ok {
		return "", ok, err
	}

	value, err := s.enc.OpenString(sealed, keyString(provider, secretID, field))
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt secret %s: %w", keyString(provider, secretID, field), err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *EncryptedStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}

	sealed, err := s.enc.SealString(value, keyString(provider, secretID, field))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", keyString(provider, secretID, field), err)
	}
	return s.inner.Set(ctx, provider, secretID, field, sealed)
}

// Delete implements Store.
func (s *EncryptedStore) Delete(ctx context.Context, provider, secretID string) error {
	return s.inner.Delete(ctx, provider, secretID)
}

// Close implements Store.
func (s *EncryptedStore) Close() error {
	return s.inner.Close()
}

var _ Store = (*EncryptedStore)(nil)
