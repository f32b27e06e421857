package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCountPrefix = "modbot/count/"

type RedisCountStore struct {
	Client *redis.Client
}

func NewRedisCountStore(ctx context.Context, client *redis.Client) (*RedisCountStore, error) {
	// check redis connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &RedisCountStore{Client: client}, nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	key := redisCountPrefix + periodBucket(name, val, period, time.Now())
	c, err := s.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	now := time.Now()

	// increment multiple counters in a single redis round-trip
	multi := s.Client.Pipeline()

	key := redisCountPrefix + periodBucket(name, val, PeriodHour, now)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 2*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodDay, now)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 48*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodTotal, now)
	multi.Incr(ctx, key)

	_, err := multi.Exec(ctx)
	return err
}
