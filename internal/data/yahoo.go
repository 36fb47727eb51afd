package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

const defaultYahooChartURL = "https://query1.finance.yahoo.com"

// YahooProvider fetches daily bars from the Yahoo Finance chart API.
// Yahoo has no multi-symbol daily endpoint, so the batch is fanned out per symbol.
type YahooProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	workers int
}

// NewYahooProvider creates a Yahoo chart provider
func NewYahooProvider(config ProviderConfig) (Provider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultYahooChartURL
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	return &YahooProvider{
		client:  config.httpClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(limit, config.workers()),
		workers: config.workers(),
	}, nil
}

// Name returns the provider name
func (p *YahooProvider) Name() string { return "yahoo" }

// yahooChart is the response structure from the Yahoo chart API.
// Quote arrays hold nulls for missing sessions.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDailyBars fetches every symbol concurrently. Per-symbol failures drop that
// symbol; the batch fails only if every symbol failed.
func (p *YahooProvider) FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error) {
	result := make(map[string]models.PriceSeries, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			series, err := p.fetchSymbol(gctx, symbol, lookbackDays)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				logger.Debug("Yahoo chart fetch failed",
					logger.Symbol(symbol),
					logger.ErrorField(err),
				)
				return nil
			}
			if len(series) > 0 {
				result[symbol] = series
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failures == len(symbols) {
		return nil, fmt.Errorf("all %d symbols failed: %w", failures, lastErr)
	}
	return result, nil
}

func (p *YahooProvider) fetchSymbol(ctx context.Context, symbol string, lookbackDays int) (models.PriceSeries, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=%s",
		p.baseURL, url.PathEscape(symbol), yahooRange(lookbackDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", resp.StatusCode)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	r := chart.Chart.Result[0]
	q := r.Indicators.Quote[0]
	series := make(models.PriceSeries, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := at(q.Close, i)
		if c == nil {
			continue // skip null bars (holidays, halted sessions)
		}
		bar := models.DailyBar{
			Date:  time.Unix(ts, 0).UTC(),
			Close: *c,
		}
		if v := at(q.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(q.High, i); v != nil {
			bar.High = *v
		}
		if v := at(q.Low, i); v != nil {
			bar.Low = *v
		}
		if v := at(q.Volume, i); v != nil {
			bar.Volume = *v
		} else {
			bar.NoVolume = true
		}
		series = append(series, bar)
	}

	return trimToLookback(series, lookbackDays), nil
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

// yahooRange picks the smallest chart range covering the lookback
func yahooRange(days int) string {
	switch {
	case days <= 5:
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	default:
		return "2y"
	}
}
