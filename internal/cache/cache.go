// Package cache provides explicit get-or-fetch caching with pluggable backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// ErrMiss is returned by backends when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Key identifies a cached call: the function identity plus its arguments
type Key struct {
	Fn   string
	Args []string
}

// NewKey builds a key from a function name and arguments
func NewKey(fn string, args ...string) Key {
	return Key{Fn: fn, Args: args}
}

// String returns the storage key, e.g. "screener:bars:9f86d081884c7d65"
func (k Key) String() string {
	h := xxhash.New()
	for _, a := range k.Args {
		_, _ = h.WriteString(a)
		_, _ = h.Write([]byte{0})
	}
	return "screener:" + k.Fn + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// FetchFunc produces the value on a miss
type FetchFunc func(ctx context.Context) ([]byte, error)

// Backend is the raw storage behind a Cache
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
	Name() string
}

// Cache wraps a backend with the get-or-fetch contract.
// Concurrent misses on the same key share one fetch. Fetch errors are never cached.
// Backend errors degrade to a direct fetch.
type Cache struct {
	backend Backend
	group   singleflight.Group
}

// New creates a cache over a backend
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Backend returns the backend name
func (c *Cache) Backend() string {
	return c.backend.Name()
}

// GetOrFetch returns the cached value for key or calls fetch and stores its result for ttl
func (c *Cache) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	k := key.String()
	name := c.backend.Name()

	value, err := c.backend.Get(ctx, k)
	switch {
	case err == nil:
		logger.CacheRequests.WithLabelValues(name, "hit").Inc()
		return value, nil
	case errors.Is(err, ErrMiss):
		logger.CacheRequests.WithLabelValues(name, "miss").Inc()
	default:
		logger.CacheRequests.WithLabelValues(name, "error").Inc()
		logger.Warn("Cache backend read failed, fetching directly",
			logger.String("backend", name),
			logger.String("fn", key.Fn),
			logger.ErrorField(err),
		)
	}

	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			if setErr := c.backend.Set(ctx, k, fresh, ttl); setErr != nil {
				logger.Warn("Cache backend write failed",
					logger.String("backend", name),
					logger.String("fn", key.Fn),
					logger.ErrorField(setErr),
				)
			}
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes a key
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	return c.backend.Delete(ctx, key.String())
}

// Close closes the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}

// GetOrFetchJSON is GetOrFetch for JSON-serializable values
func GetOrFetchJSON[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		// Corrupt entry: drop it and fetch fresh
		_ = c.Invalidate(ctx, key)
		v, ferr := fetch(ctx)
		if ferr != nil {
			return zero, fmt.Errorf("cache decode failed (%v) and fetch failed: %w", err, ferr)
		}
		return v, nil
	}
	return out, nil
}

// SortedArgs returns a sorted, comma-joined argument for symbol sets
func SortedArgs(symbols []string) string {
	cp := append([]string(nil), symbols...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}
