package data

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// AlpacaProvider fetches daily bars for the whole batch in one multi-symbol request
type AlpacaProvider struct {
	client *marketdata.Client
	feed   string
}

// NewAlpacaProvider creates an Alpaca market data provider
func NewAlpacaProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("alpaca provider requires API key and secret")
	}
	return &AlpacaProvider{
		client: NewAlpacaClient(config),
		feed:   config.Feed,
	}, nil
}

// NewAlpacaClient builds the market data client shared by bars and news
func NewAlpacaClient(config ProviderConfig) *marketdata.Client {
	return marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     config.APIKey,
		APISecret:  config.APISecret,
		BaseURL:    config.BaseURL,
		HTTPClient: config.httpClient(),
	})
}

// Name returns the provider name
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchDailyBars issues a single GetMultiBars call for all symbols
func (p *AlpacaProvider) FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error) {
	result := make(map[string]models.PriceSeries, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	// Calendar window wide enough to hold lookbackDays sessions
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(lookbackDays*7/5 + 7))

	type response struct {
		bars map[string][]marketdata.Bar
		err  error
	}
	done := make(chan response, 1)
	go func() {
		bars, err := p.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(p.feed),
		})
		done <- response{bars: bars, err: err}
	}()

	var resp response
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp = <-done:
	}
	if resp.err != nil {
		return nil, fmt.Errorf("alpaca multi bars: %w", resp.err)
	}

	for symbol, bars := range resp.bars {
		series := make(models.PriceSeries, 0, len(bars))
		for _, b := range bars {
			series = append(series, models.DailyBar{
				Date:   b.Timestamp.UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
		if len(series) > 0 {
			result[symbol] = trimToLookback(series, lookbackDays)
		}
	}
	return result, nil
}
