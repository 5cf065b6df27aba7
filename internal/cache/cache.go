// Package cache defines the best-effort byte cache used for viewports and estimates.
package cache

import "time"

type Interface interface {
	MGet(keys []string) (map[string][]byte, error)
	Set(key string, val []byte, ttl time.Duration) error
	Del(keys ...string) error
}

// Nop never stores anything. It backs CACHE_BACKEND=none.
type Nop struct{}

func (Nop) MGet([]string) (map[string][]byte, error) { return map[string][]byte{}, nil }
func (Nop) Set(string, []byte, time.Duration) error  { return nil }
func (Nop) Del(...string) error                      { return nil }

// Get reads a single key through MGet.
func Get(c Interface, key string) ([]byte, bool, error) {
	m, err := c.MGet([]string{key})
	if err != nil {
		return nil, false, err
	}
	v, ok := m[key]
	return v, ok, nil
}
