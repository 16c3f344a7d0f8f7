package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/plateworks/reelchef/pkg/models"
)

// Cache is the caching and notification interface. All Redis operations go
// through here. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error

	SetRecipeStatus(ctx context.Context, recipeID uuid.UUID, status string, ttl time.Duration) error
	GetRecipeStatus(ctx context.Context, recipeID uuid.UUID) (string, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// PublishStatus pushes a status event to live subscribers. Delivery is
	// at-most-once with no replay; subscribers re-fetch current state on
	// (re)connect rather than trusting the stream alone.
	PublishStatus(ctx context.Context, event models.StatusEvent) error
	SubscribeStatus(ctx context.Context, recipeID uuid.UUID) (<-chan models.StatusEvent, func(), error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetRecipeStatus(ctx context.Context, recipeID uuid.UUID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, RecipeStatusKey(recipeID), status, ttl).Err()
}

func (c *RedisCache) GetRecipeStatus(ctx context.Context, recipeID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, RecipeStatusKey(recipeID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	return c.client.Publish(ctx, StatusChannel(event.RecipeID), payload).Err()
}

// SubscribeStatus opens a subscription for one recipe's status events. The
// returned teardown must be called to release the connection and is safe to
// call more than once; the channel closes when ctx ends or teardown runs.
func (c *RedisCache) SubscribeStatus(ctx context.Context, recipeID uuid.UUID) (<-chan models.StatusEvent, func(), error) {
	sub := c.client.Subscribe(ctx, StatusChannel(recipeID))
	// Force the subscription onto the wire before returning so the caller
	// can re-fetch state knowing no later event will be missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe status: %w", err)
	}

	events := make(chan models.StatusEvent)
	done := make(chan struct{})
	go func() {
		defer close(events)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue // malformed events are dropped, not fatal
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return events, teardown, nil
}
