package tickers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

var errEmptyList = errors.New("ticker source returned no usable symbols")

// Normalize trims, uppercases, validates and de-duplicates raw tickers, keeping first-seen order
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		s := strings.ToUpper(strings.TrimSpace(r))
		if !symbolPattern.MatchString(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Result is the outcome of one acquisition
type Result struct {
	Symbols  []string
	Universe int
	Fallback bool
	// Warning is set (wrapping models.ErrAcquisition) when the fallback list was used
	Warning error
}

// Acquirer resolves the ticker universe with caching and a built-in fallback
type Acquirer struct {
	source   Source
	cache    *cache.Cache
	ttl      time.Duration
	timeout  time.Duration
	fallback []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// AcquirerOption configures an Acquirer
type AcquirerOption func(*Acquirer)

// WithCache caches the universe for ttl
func WithCache(c *cache.Cache, ttl time.Duration) AcquirerOption {
	return func(a *Acquirer) {
		a.cache = c
		a.ttl = ttl
	}
}

// WithTimeout bounds each source call
func WithTimeout(d time.Duration) AcquirerOption {
	return func(a *Acquirer) { a.timeout = d }
}

// WithSeed makes sampling deterministic
func WithSeed(seed int64) AcquirerOption {
	return func(a *Acquirer) { a.rnd = rand.New(rand.NewSource(seed)) }
}

// NewAcquirer creates an acquirer over source with the given fallback list
func NewAcquirer(source Source, fallback []string, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		source:   source,
		fallback: Normalize(fallback),
		timeout:  10 * time.Second,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Universe returns the full normalized ticker list, falling back on error or empty response
func (a *Acquirer) Universe(ctx context.Context) Result {
	symbols, err := a.fetch(ctx)
	if err == nil && len(symbols) > 0 {
		return Result{Symbols: symbols, Universe: len(symbols)}
	}
	if err == nil {
		err = errEmptyList
	}

	warning := fmt.Errorf("%w: %s: %v", models.ErrAcquisition, a.source.Name(), err)
	logger.WithContext(ctx).Warn("Ticker source unavailable, using fallback list",
		logger.String("source", a.source.Name()),
		logger.Int("fallback_size", len(a.fallback)),
		logger.ErrorField(err),
	)
	return Result{
		Symbols:  append([]string(nil), a.fallback...),
		Universe: len(a.fallback),
		Fallback: true,
		Warning:  warning,
	}
}

// Acquire returns a random sample of n symbols from the universe (all of them when n <= 0)
func (a *Acquirer) Acquire(ctx context.Context, n int) Result {
	res := a.Universe(ctx)
	res.Symbols = a.Sample(res.Symbols, n)
	return res
}

// Sample picks n distinct symbols at random; it returns a copy of all when n <= 0 or n >= len
func (a *Acquirer) Sample(symbols []string, n int) []string {
	if n <= 0 || n >= len(symbols) {
		return append([]string(nil), symbols...)
	}
	a.mu.Lock()
	perm := a.rnd.Perm(len(symbols))
	a.mu.Unlock()

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = symbols[perm[i]]
	}
	return out
}

func (a *Acquirer) fetch(ctx context.Context) ([]string, error) {
	load := func(ctx context.Context) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		raw, err := a.source.Tickers(ctx)
		if err != nil {
			return nil, err
		}
		symbols := Normalize(raw)
		if len(symbols) == 0 {
			return nil, errEmptyList
		}
		return symbols, nil
	}

	if a.cache == nil {
		return load(ctx)
	}
	key := cache.NewKey("tickers:"+a.source.Name(), sourceArg(a.source))
	return cache.GetOrFetchJSON(ctx, a.cache, key, a.ttl, load)
}

func sourceArg(s Source) string {
	switch src := s.(type) {
	case *URLSource:
		return src.URL
	case *GainersSource:
		return src.URL
	case StaticSource:
		return strings.Join(src.Symbols, ",")
	default:
		return ""
	}
}
