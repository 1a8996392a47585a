package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore counts events in fixed windows so upload throttling holds
// across process restarts and is shared by every replica pointed at the same
// Redis.
type redisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func newRedisStore(addr, password string, timeout time.Duration) *redisStore {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &redisStore{client: client, timeout: timeout}
}

func (s *redisStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		// First event in the window owns the expiry.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	retryAfter, err := s.client.TTL(ctx, key).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = window
	}
	return false, retryAfter, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
