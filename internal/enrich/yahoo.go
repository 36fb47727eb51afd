package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
)

const defaultYahooQuoteURL = "https://query1.finance.yahoo.com"

// QuoteRecord is the subset of the Yahoo v7 quote response the screener reads.
// Every field is optional.
type QuoteRecord struct {
	Symbol            string   `json:"symbol"`
	LongName          *string  `json:"longName"`
	ShortName         *string  `json:"shortName"`
	SharesOutstanding *float64 `json:"sharesOutstanding"`
}

// KeyStatistics is the subset of quoteSummary defaultKeyStatistics the screener reads
type KeyStatistics struct {
	FloatShares       *float64 `json:"floatShares"`
	SharesOutstanding *float64 `json:"sharesOutstanding"`
}

type yahooRaw struct {
	Raw *float64 `json:"raw"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []QuoteRecord `json:"result"`
	} `json:"quoteResponse"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			DefaultKeyStatistics struct {
				FloatShares       yahooRaw `json:"floatShares"`
				SharesOutstanding yahooRaw `json:"sharesOutstanding"`
			} `json:"defaultKeyStatistics"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// YahooClient reads quote and key-statistics data from Yahoo Finance.
// Responses are cached per symbol so the chained float sources share one call.
type YahooClient struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	ttl     time.Duration
}

// NewYahooClient creates a client; baseURL may be empty. c may be nil.
func NewYahooClient(baseURL string, timeout time.Duration, c *cache.Cache, ttl time.Duration) *YahooClient {
	if baseURL == "" {
		baseURL = defaultYahooQuoteURL
	}
	if c == nil {
		c = cache.New(cache.NewMemoryBackend())
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &YahooClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   c,
		ttl:     ttl,
	}
}

// Quote returns the quote record for symbol
func (y *YahooClient) Quote(ctx context.Context, symbol string) (*QuoteRecord, error) {
	key := cache.NewKey("yahoo:quote", symbol)
	rec, err := cache.GetOrFetchJSON(ctx, y.cache, key, y.ttl, func(ctx context.Context) (*QuoteRecord, error) {
		var resp quoteResponse
		if err := y.getJSON(ctx, "/v7/finance/quote?symbols="+url.QueryEscape(symbol), &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.QuoteResponse.Result {
			if strings.EqualFold(r.Symbol, symbol) {
				r := r
				return &r, nil
			}
		}
		return nil, fmt.Errorf("yahoo quote: no result for %s", symbol)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// KeyStatistics returns the default key statistics for symbol
func (y *YahooClient) KeyStatistics(ctx context.Context, symbol string) (*KeyStatistics, error) {
	key := cache.NewKey("yahoo:keystats", symbol)
	return cache.GetOrFetchJSON(ctx, y.cache, key, y.ttl, func(ctx context.Context) (*KeyStatistics, error) {
		var resp quoteSummaryResponse
		path := "/v10/finance/quoteSummary/" + url.PathEscape(symbol) + "?modules=defaultKeyStatistics"
		if err := y.getJSON(ctx, path, &resp); err != nil {
			return nil, err
		}
		if resp.QuoteSummary.Error != nil {
			return nil, fmt.Errorf("yahoo quoteSummary: %s", resp.QuoteSummary.Error.Description)
		}
		if len(resp.QuoteSummary.Result) == 0 {
			return nil, fmt.Errorf("yahoo quoteSummary: no result for %s", symbol)
		}
		ks := resp.QuoteSummary.Result[0].DefaultKeyStatistics
		return &KeyStatistics{
			FloatShares:       ks.FloatShares.Raw,
			SharesOutstanding: ks.SharesOutstanding.Raw,
		}, nil
	})
}

// CompanyName returns the long name, then the short name, then the symbol itself
func (y *YahooClient) CompanyName(ctx context.Context, symbol string) string {
	rec, err := y.Quote(ctx, symbol)
	if err != nil || rec == nil {
		return symbol
	}
	if rec.LongName != nil && *rec.LongName != "" {
		return *rec.LongName
	}
	if rec.ShortName != nil && *rec.ShortName != "" {
		return *rec.ShortName
	}
	return symbol
}

func (y *YahooClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yahoo: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("yahoo decode: %w", err)
	}
	return nil
}

// QuoteSharesSource is the fast path: shares outstanding from the quote endpoint
type QuoteSharesSource struct{ Client *YahooClient }

// Name returns "yahoo_quote"
func (s QuoteSharesSource) Name() string { return "yahoo_quote" }

// SharesFloat returns quote sharesOutstanding, or 0 when absent
func (s QuoteSharesSource) SharesFloat(ctx context.Context, symbol string) (float64, error) {
	rec, err := s.Client.Quote(ctx, symbol)
	if err != nil || rec == nil {
		return 0, err
	}
	return deref(rec.SharesOutstanding), nil
}

// FloatSharesSource reads floatShares from key statistics
type FloatSharesSource struct{ Client *YahooClient }

// Name returns "yahoo_float_shares"
func (s FloatSharesSource) Name() string { return "yahoo_float_shares" }

// SharesFloat returns floatShares, or 0 when absent
func (s FloatSharesSource) SharesFloat(ctx context.Context, symbol string) (float64, error) {
	ks, err := s.Client.KeyStatistics(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return deref(ks.FloatShares), nil
}

// SharesOutstandingSource reads sharesOutstanding from key statistics
type SharesOutstandingSource struct{ Client *YahooClient }

// Name returns "yahoo_shares_outstanding"
func (s SharesOutstandingSource) Name() string { return "yahoo_shares_outstanding" }

// SharesFloat returns sharesOutstanding, or 0 when absent
func (s SharesOutstandingSource) SharesFloat(ctx context.Context, symbol string) (float64, error) {
	ks, err := s.Client.KeyStatistics(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return deref(ks.SharesOutstanding), nil
}

// DefaultFloatSources returns the Yahoo chain in resolution order
func DefaultFloatSources(client *YahooClient) []FloatSource {
	return []FloatSource{
		QuoteSharesSource{Client: client},
		FloatSharesSource{Client: client},
		SharesOutstandingSource{Client: client},
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
