package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config describes how to reach the Redis cluster backing the gateway.
type Config struct {
	Addr         string
	Password     string
	DB           int
	ReadyTimeout time.Duration // default 10s
}

// RedisStore is the Store implementation used in production.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials the cluster and blocks until it answers a PING or
// ReadyTimeout elapses.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
	defer cancel()
	if err := waitReady(waitCtx, client); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func waitReady(ctx context.Context, client *redis.Client) error {
	backoff := 100 * time.Millisecond
	for {
		if err := client.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrUnavailable, "cluster not ready within configured timeout")
		case <-time.After(backoff):
			if backoff < time.Second {
				backoff *= 2
			}
		}
	}
}

// Set stores value under key. ttl<=0 keeps whatever TTL the key already
// has (or none, for a brand new key) instead of clobbering it.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	exp := ttl
	if ttl <= 0 {
		exp = redis.KeepTTL
	}
	if err := s.client.Set(ctx, key, value, exp).Err(); err != nil {
		return errors.Wrapf(ErrUnavailable, "set(%s): %v", key, err)
	}
	return nil
}

// Get returns the value, whether it existed, and any transport error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(ErrUnavailable, "get(%s): %v", key, err)
	}
	return val, true, nil
}

// Del deletes a key; deleting an absent key is not an error.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(ErrUnavailable, "del(%s): %v", key, err)
	}
	return nil
}

// Healthy probes the cluster without blocking the caller for long.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
