package data

import (
	"context"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// HistoricalProvider replays the market as of a past date by dropping bars after it
type HistoricalProvider struct {
	inner Provider
	asOf  time.Time
}

// NewHistoricalProvider decorates inner with an as-of cut-off (inclusive, by calendar day)
func NewHistoricalProvider(inner Provider, asOf time.Time) *HistoricalProvider {
	return &HistoricalProvider{inner: inner, asOf: asOf}
}

// Name returns the wrapped provider name
func (p *HistoricalProvider) Name() string { return p.inner.Name() }

// FetchDailyBars widens the lookback to reach the as-of date, then truncates
func (p *HistoricalProvider) FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error) {
	gap := int(time.Since(p.asOf).Hours() / 24)
	if gap < 0 {
		gap = 0
	}
	bars, err := p.inner.FetchDailyBars(ctx, symbols, lookbackDays+gap)
	if err != nil {
		return nil, err
	}

	cutoff := p.asOf.Truncate(24*time.Hour).AddDate(0, 0, 1)
	result := make(map[string]models.PriceSeries, len(bars))
	for symbol, series := range bars {
		kept := make(models.PriceSeries, 0, len(series))
		for _, bar := range series {
			if bar.Date.Before(cutoff) {
				kept = append(kept, bar)
			}
		}
		if len(kept) == 0 {
			continue
		}
		result[symbol] = trimToLookback(kept, lookbackDays)
	}
	return result, nil
}
