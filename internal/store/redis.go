package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// eventsChannel carries realtime event envelopes between instances.
	eventsChannel = "partie:events"

	// onlineSetKey mirrors the set of online user ids so sibling
	// instances can answer presence queries.
	onlineSetKey = "presence:online"
)

// RedisStore handles Redis operations: the cross-instance event bus, the
// shared presence set, and rate limit counters (used directly through
// Client by the rate limiting middleware).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that manages its own
// keys (rate limiting).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// PublishEvent publishes a serialized event envelope to all instances.
func (s *RedisStore) PublishEvent(ctx context.Context, payload []byte) error {
	return s.client.Publish(ctx, eventsChannel, payload).Err()
}

// SubscribeEvents subscribes to the event channel. The caller owns the
// returned PubSub and must close it.
func (s *RedisStore) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, eventsChannel)
}

// SetOnline adds or removes a user from the shared online set.
func (s *RedisStore) SetOnline(ctx context.Context, userID uuid.UUID, online bool) error {
	if online {
		return s.client.SAdd(ctx, onlineSetKey, userID.String()).Err()
	}
	return s.client.SRem(ctx, onlineSetKey, userID.String()).Err()
}

// IsOnline reports whether any instance tracks the user as online.
func (s *RedisStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.client.SIsMember(ctx, onlineSetKey, userID.String()).Result()
}

// ClearOnline empties the shared online set. Called at startup so state
// from a crashed instance does not linger.
func (s *RedisStore) ClearOnline(ctx context.Context) error {
	return s.client.Del(ctx, onlineSetKey).Err()
}
