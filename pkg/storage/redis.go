package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/shedcast/pkg/models"
)

// RedisStore implements ModelStore using Redis as a backend.
// It lets several forecaster instances share the models one of them trains.
// Each scope is a single key holding the codec blob, so a SET replaces the
// model atomically.
type RedisStore struct {
	client *redis.Client
	codec  models.Codec
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: Model expiration (0 keeps models until overwritten)
//   - codec: Model serializer (nil uses models.BlobCodec)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration, codec models.Codec) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl < 0 {
		return nil, errors.New("redis ttl cannot be negative")
	}
	if codec == nil {
		codec = models.BlobCodec{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		codec:  codec,
		ttl:    ttl,
	}, nil
}

// ErrStoreClosed is returned by a RedisStore used after Close.
var ErrStoreClosed = errors.New("redis store is closed")

// conn returns the live client, or ErrStoreClosed once Close has run.
func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, ErrStoreClosed
	}
	return r.client, nil
}

func modelKey(scope string) string {
	return fmt.Sprintf("shedcast:model:%s", scope)
}

// Save encodes the model and stores it under "shedcast:model:{scope}".
func (r *RedisStore) Save(ctx context.Context, model models.TrainedModel) error {
	if err := ValidateScope(model.Scope); err != nil {
		return err
	}

	data, err := r.codec.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	client, err := r.conn()
	if err != nil {
		return err
	}

	if err := client.Set(ctx, modelKey(model.Scope), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store model in redis: %w", err)
	}

	return nil
}

// Load retrieves and decodes the model for a scope.
//
// Returns:
//   - model: The decoded model (zero value if not found)
//   - found: true if a model exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) Load(ctx context.Context, scope string) (models.TrainedModel, bool, error) {
	if err := ValidateScope(scope); err != nil {
		return models.TrainedModel{}, false, err
	}

	client, err := r.conn()
	if err != nil {
		return models.TrainedModel{}, false, err
	}

	data, err := client.Get(ctx, modelKey(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.TrainedModel{}, false, nil
		}
		return models.TrainedModel{}, false, fmt.Errorf("failed to get model from redis: %w", err)
	}

	model, err := r.codec.Unmarshal(data)
	if err != nil {
		return models.TrainedModel{}, false, fmt.Errorf("failed to unmarshal model %q: %w", scope, err)
	}

	return model, true, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}
