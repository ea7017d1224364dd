package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces secret hashes.
const DefaultRedisPrefix = "uplink:secret"

// RedisStore keeps each secret in one hash at <prefix>:<provider>:<secret id>
// with one hash field per secret field.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
	owned  bool
}

// NewRedisStore wraps client. Close does not close a client passed in here.
func NewRedisStore(client redis.UniversalClient, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// OpenRedis dials a server and verifies it answers PING.
func OpenRedis(ctx context.Context, opts *redis.Options, prefix string, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to redis secret store")

	store := NewRedisStore(client, prefix, logger)
	store.owned = true
	return store, nil
}

func (s *RedisStore) hashKey(provider, secretID string) string {
	return s.prefix + ":" + provider + ":" + secretID
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := validateKey(provider, secretID, field); err != nil {
		return "", false, err
	}

	value, err := s.client.HGet(ctx, s.hashKey(provider, secretID), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret %s: %w", keyString(provider, secretID, field), err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}

	if err := s.client.HSet(ctx, s.hashKey(provider, secretID), field, value).Err(); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", keyString(provider, secretID, field), err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, provider, secretID string) error {
	if err := validateKey(provider, secretID); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.hashKey(provider, secretID)).Err(); err != nil {
		return fmt.Errorf("failed to delete secret %s/%s: %w", provider, secretID, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
