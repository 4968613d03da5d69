package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MapCache is a process-local Cache.
type MapCache struct {
	m sync.Map
}

func NewMapCache() *MapCache {
	return &MapCache{}
}

func (c *MapCache) Get(_ context.Context, id string) (Identity, bool, error) {
	v, ok := c.m.Load(id)
	if !ok {
		return Identity{}, false, nil
	}
	identity, ok := v.(Identity)
	return identity, ok, nil
}

func (c *MapCache) Set(_ context.Context, identity Identity) error {
	c.m.Store(identity.ID, identity)
	return nil
}

func (c *MapCache) Delete(_ context.Context, id string) error {
	c.m.Delete(id)
	return nil
}

const redisKeyPrefix = "identity:"

// RedisCache shares identities between API instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id string) (Identity, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return Identity{}, false, err
	}
	return identity, true, nil
}

func (c *RedisCache) Set(ctx context.Context, identity Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+identity.ID, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, redisKeyPrefix+id).Err()
}
