package redisstore

import (
	"context"
	"time"
)

// Store adapts Client to cache.Interface. Every operation runs under its
// own timeout so a slow Redis cannot stall a request.
type Store struct {
	cli     *Client
	timeout time.Duration
}

func NewStore(cli *Client, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Store{cli: cli, timeout: timeout}
}

func (s *Store) MGet(keys []string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.cli.MGet(ctx, keys)
}

func (s *Store) Set(key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.cli.Set(ctx, key, val, ttl)
}

func (s *Store) Del(keys ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.cli.Del(ctx, keys...)
}

// Ping lets readiness checks probe the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx)
}
