package data

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// MockProvider is a mock implementation of Provider for testing and demos.
// Symbols with explicit series return them; others get a deterministic random walk
// unless Strict is set.
type MockProvider struct {
	name   string
	config ProviderConfig
	series map[string]models.PriceSeries
	err    error
	calls  int
	Strict bool
	mu     sync.RWMutex
}

// NewMockProvider creates a new mock provider
func NewMockProvider(config ProviderConfig) (Provider, error) {
	return &MockProvider{
		name:   "mock",
		config: config,
		series: make(map[string]models.PriceSeries),
	}, nil
}

// SetSeries sets the bars returned for a symbol
func (m *MockProvider) SetSeries(symbol string, series models.PriceSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = series
}

// SetError makes every fetch fail with err (nil clears it)
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many fetches were made (for testing)
func (m *MockProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// FetchDailyBars returns configured or generated bars
func (m *MockProvider) FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]models.PriceSeries, len(symbols))
	for _, symbol := range symbols {
		if series, ok := m.series[symbol]; ok {
			if len(series) > 0 {
				result[symbol] = trimToLookback(append(models.PriceSeries(nil), series...), lookbackDays)
			}
			continue
		}
		if m.Strict {
			continue
		}
		result[symbol] = generateSeries(symbol, lookbackDays)
	}
	return result, nil
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	return m.name
}

// generateSeries builds a deterministic random walk seeded by the symbol
func generateSeries(symbol string, days int) models.PriceSeries {
	if days <= 0 {
		days = 30
	}
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(symbol))))

	end := time.Now().UTC().Truncate(24 * time.Hour)
	price := 1.0 + rng.Float64()*80.0 // 1-81
	series := make(models.PriceSeries, 0, days)
	for i := days - 1; i >= 0; i-- {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.1
		if price < 0.5 {
			price = 0.5
		}
		high, low := open, price
		if price > open {
			high, low = price, open
		}
		series = append(series, models.DailyBar{
			Date:   end.AddDate(0, 0, -i),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(100_000 + rng.Intn(5_000_000)),
		})
	}
	return series
}
