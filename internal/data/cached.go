package data

import (
	"context"
	"strconv"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// CachedProvider memoizes whole-batch fetches for a short TTL
type CachedProvider struct {
	inner Provider
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedProvider decorates inner with c
func NewCachedProvider(inner Provider, c *cache.Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c, ttl: ttl}
}

// Name returns the wrapped provider name
func (p *CachedProvider) Name() string { return p.inner.Name() }

// FetchDailyBars returns the cached batch for the same symbol set and lookback
func (p *CachedProvider) FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error) {
	key := cache.NewKey("bars:"+p.inner.Name(), cache.SortedArgs(symbols), strconv.Itoa(lookbackDays))
	return cache.GetOrFetchJSON(ctx, p.cache, key, p.ttl, func(ctx context.Context) (map[string]models.PriceSeries, error) {
		return p.inner.FetchDailyBars(ctx, symbols, lookbackDays)
	})
}
