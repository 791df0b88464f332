package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "todoctl:"

// RedisCredentialStore keeps the credential pair in two Redis string keys so several
// processes on one machine share a session.
type RedisCredentialStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCredentialStore connects using a redis:// URL and pings the server.
// An empty prefix defaults to "todoctl:".
func NewRedisCredentialStore(ctx context.Context, redisURL string, prefix string) (*RedisCredentialStore, error) {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("credential_store.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("credential_store.redis.ping: %w", pingErr)
	}
	return &RedisCredentialStore{client: client, prefix: prefix}, nil
}

func (store *RedisCredentialStore) key(name string) string {
	return store.prefix + name
}

// Load fetches both keys with a single MGET.
func (store *RedisCredentialStore) Load(ctx context.Context) (Credentials, error) {
	values, err := store.client.MGet(ctx, store.key(AccessTokenKey), store.key(RefreshTokenKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Credentials{}, fmt.Errorf("credential_store.load.redis: %w", err)
	}
	var credentials Credentials
	if len(values) == 2 {
		credentials.AccessToken, _ = values[0].(string)
		credentials.RefreshToken, _ = values[1].(string)
	}
	return credentials, nil
}

// Save writes both keys in a MULTI/EXEC transaction.
func (store *RedisCredentialStore) Save(ctx context.Context, credentials Credentials) error {
	if !credentials.HasAccess() {
		return fmt.Errorf("credential_store.save.redis: %w", ErrEmptyAccessToken)
	}
	pipeline := store.client.TxPipeline()
	pipeline.Set(ctx, store.key(AccessTokenKey), credentials.AccessToken, 0)
	if credentials.HasRefresh() {
		pipeline.Set(ctx, store.key(RefreshTokenKey), credentials.RefreshToken, 0)
	} else {
		pipeline.Del(ctx, store.key(RefreshTokenKey))
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("credential_store.save.redis: %w", err)
	}
	return nil
}

// Clear deletes both keys.
func (store *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := store.client.Del(ctx, store.key(AccessTokenKey), store.key(RefreshTokenKey)).Err(); err != nil {
		return fmt.Errorf("credential_store.clear.redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (store *RedisCredentialStore) Close() error {
	return store.client.Close()
}
