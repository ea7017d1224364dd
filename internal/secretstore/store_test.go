package secretstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/prn-tf/alexander-uplink/internal/domain"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type storeFactory func(t *testing.T) Store

func contractBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLite(context.Background(), DefaultSQLiteConfig(filepath.Join(t.TempDir(), "secrets.db")), zerolog.Nop())
			require.NoError(t, err)
			return store
		},
		"keyring": func(t *testing.T) Store {
			keyring.MockInit()
			return NewKeyringStore("uplink-test", zerolog.Nop())
		},
		"encrypted": func(t *testing.T) Store {
			store, err := NewEncryptedStore(NewMemoryStore(), testHexKey)
			require.NoError(t, err)
			return store
		},
		"cached": func(t *testing.T) Store {
			return NewCachedStore(NewMemoryStore(), time.Hour)
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range contractBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("missing value", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				value, ok, err := store.Get(ctx, "amazon-s3", "static", "access_key_id")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Empty(t, value)
			})

			t.Run("set get overwrite", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				require.NoError(t, store.Set(ctx, "amazon-s3", "static", "access_key_id", "AKIAOLD"))
				require.NoError(t, store.Set(ctx, "amazon-s3", "static", "access_key_id", "AKIANEW"))

				value, ok, err := store.Get(ctx, "amazon-s3", "static", "access_key_id")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "AKIANEW", value)
			})

			t.Run("delete removes every field of one secret", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				require.NoError(t, SetFields(ctx, store, "amazon-s3", "sso-token", map[string]string{
					"access_token":  "at",
					"refresh_token": "rt",
				}))
				require.NoError(t, store.Set(ctx, "amazon-s3", "sso-client", "client_id", "cid"))

				require.NoError(t, store.Delete(ctx, "amazon-s3", "sso-token"))

				fields, err := GetFields(ctx, store, "amazon-s3", "sso-token", "access_token", "refresh_token")
				require.NoError(t, err)
				assert.Empty(t, fields)

				kept, err := GetRequired(ctx, store, "amazon-s3", "sso-client", "client_id")
				require.NoError(t, err)
				assert.Equal(t, "cid", kept)
			})

			t.Run("delete of unknown secret", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				assert.NoError(t, store.Delete(ctx, "amazon-s3", "never-written"))
			})

			t.Run("get required", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				_, err := GetRequired(ctx, store, "amazon-s3", "static", "secret_access_key")
				assert.ErrorIs(t, err, domain.ErrSecretMissing)

				require.NoError(t, store.Set(ctx, "amazon-s3", "static", "secret_access_key", ""))
				_, err = GetRequired(ctx, store, "amazon-s3", "static", "secret_access_key")
				assert.ErrorIs(t, err, domain.ErrSecretMissing)
			})

			t.Run("invalid keys", func(t *testing.T) {
				store := factory(t)
				defer store.Close()

				assert.ErrorIs(t, store.Set(ctx, "", "static", "field", "v"), ErrInvalidKey)
				assert.ErrorIs(t, store.Set(ctx, "amazon-s3", " ", "field", "v"), ErrInvalidKey)
				_, _, err := store.Get(ctx, "amazon-s3", "static", "")
				assert.ErrorIs(t, err, ErrInvalidKey)
				assert.ErrorIs(t, store.Delete(ctx, "amazon-s3", ""), ErrInvalidKey)
			})
		})
	}
}

func TestSetFields_GetFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, SetFields(ctx, store, "amazon-s3", "role:123:Admin", map[string]string{
		"access_key_id":     "ASIA",
		"secret_access_key": "secret",
		"session_token":     "token",
	}))

	fields, err := GetFields(ctx, store, "amazon-s3", "role:123:Admin", "access_key_id", "session_token", "expiration")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"access_key_id": "ASIA", "session_token": "token"}, fields)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	assert.ErrorIs(t, store.Set(ctx, "p", "s", "f", "v"), context.Canceled)
	_, _, err := store.Get(ctx, "p", "s", "f")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyringStore_Layout(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	store := NewKeyringStore("", zerolog.Nop())

	require.NoError(t, store.Set(ctx, "amazon-s3", "static", "secret_access_key", "s"))
	require.NoError(t, store.Set(ctx, "amazon-s3", "static", "access_key_id", "a"))
	require.NoError(t, store.Set(ctx, "amazon-s3", "static", "access_key_id", "b"))

	raw, err := keyring.Get("alexander-uplink/amazon-s3/static", "access_key_id")
	require.NoError(t, err)
	assert.Equal(t, "b", raw)

	index, err := keyring.Get("alexander-uplink/amazon-s3/static", fieldIndexAccount)
	require.NoError(t, err)
	assert.Equal(t, "access_key_id\nsecret_access_key", index)

	assert.ErrorIs(t, store.Set(ctx, "amazon-s3", "static", fieldIndexAccount, "x"), ErrInvalidKey)

	require.NoError(t, store.Delete(ctx, "amazon-s3", "static"))
	_, err = keyring.Get("alexander-uplink/amazon-s3/static", "secret_access_key")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
	_, err = keyring.Get("alexander-uplink/amazon-s3/static", fieldIndexAccount)
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestEncryptedStore(t *testing.T) {
	ctx := context.Background()

	t.Run("inner store never sees plaintext", func(t *testing.T) {
		inner := NewMemoryStore()
		store, err := NewEncryptedStore(inner, "correct horse battery staple")
		require.NoError(t, err)

		require.NoError(t, store.Set(ctx, "amazon-s3", "sso-token", "access_token", "plain-token"))

		raw, ok, err := inner.Get(ctx, "amazon-s3", "sso-token", "access_token")
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotContains(t, raw, "plain-token")

		value, ok, err := store.Get(ctx, "amazon-s3", "sso-token", "access_token")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "plain-token", value)
	})

	t.Run("ciphertext moved to another slot fails", func(t *testing.T) {
		inner := NewMemoryStore()
		store, err := NewEncryptedStore(inner, testHexKey)
		require.NoError(t, err)

		require.NoError(t, store.Set(ctx, "amazon-s3", "sso-token", "access_token", "plain-token"))
		raw, _, err := inner.Get(ctx, "amazon-s3", "sso-token", "access_token")
		require.NoError(t, err)
		require.NoError(t, inner.Set(ctx, "amazon-s3", "sso-token", "refresh_token", raw))

		_, _, err = store.Get(ctx, "amazon-s3", "sso-token", "refresh_token")
		assert.Error(t, err)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		inner := NewMemoryStore()
		first, err := NewEncryptedStore(inner, "first passphrase")
		require.NoError(t, err)
		second, err := NewEncryptedStore(inner, "second passphrase")
		require.NoError(t, err)

		require.NoError(t, first.Set(ctx, "amazon-s3", "static", "secret_access_key", "s"))
		_, _, err = second.Get(ctx, "amazon-s3", "static", "secret_access_key")
		assert.Error(t, err)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := NewEncryptedStore(NewMemoryStore(), "")
		assert.Error(t, err)
	})
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachedStore(inner, time.Hour)
	defer store.Close()

	require.NoError(t, inner.Set(ctx, "amazon-s3", "sso-token", "access_token", "first"))

	value, ok, err := store.Get(ctx, "amazon-s3", "sso-token", "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", value)

	// Changes behind the cache stay invisible until the entry expires.
	require.NoError(t, inner.Set(ctx, "amazon-s3", "sso-token", "access_token", "second"))
	value, _, err = store.Get(ctx, "amazon-s3", "sso-token", "access_token")
	require.NoError(t, err)
	assert.Equal(t, "first", value)

	require.NoError(t, store.Set(ctx, "amazon-s3", "sso-token", "access_token", "third"))
	value, _, err = store.Get(ctx, "amazon-s3", "sso-token", "access_token")
	require.NoError(t, err)
	assert.Equal(t, "third", value)

	_, ok, err = store.Get(ctx, "amazon-s3", "sso-token", "refresh_token")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, inner.Set(ctx, "amazon-s3", "sso-token", "refresh_token", "rt"))
	_, ok, err = store.Get(ctx, "amazon-s3", "sso-token", "refresh_token")
	require.NoError(t, err)
	assert.False(t, ok, "absence is cached too")

	require.NoError(t, store.Delete(ctx, "amazon-s3", "sso-token"))
	_, ok, err = store.Get(ctx, "amazon-s3", "sso-token", "access_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

// racingStore runs beforeWrite ahead of every write to the wrapped store.
type racingStore struct {
	Store
	beforeWrite func()
}

func (s *racingStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	return s.Store.Set(ctx, provider, secretID, field, value)
}

func (s *racingStore) Delete(ctx context.Context, provider, secretID string) error {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	return s.Store.Delete(ctx, provider, secretID)
}

func TestCachedStore_ReadDuringWrite(t *testing.T) {
	ctx := context.Background()
	inner := &racingStore{Store: NewMemoryStore()}
	store := NewCachedStore(inner, time.Hour)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "amazon-s3", "sso-token", "record", "old"))

	inner.beforeWrite = func() {
		value, _, err := store.Get(ctx, "amazon-s3", "sso-token", "record")
		require.NoError(t, err)
		assert.Equal(t, "old", value)
	}

	require.NoError(t, store.Set(ctx, "amazon-s3", "sso-token", "record", "new"))
	value, ok, err := store.Get(ctx, "amazon-s3", "sso-token", "record")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", value, "value read during the write is not kept")

	require.NoError(t, store.Delete(ctx, "amazon-s3", "sso-token"))
	_, ok, err = store.Get(ctx, "amazon-s3", "sso-token", "record")
	require.NoError(t, err)
	assert.False(t, ok, "value read during the delete is not kept")
}
