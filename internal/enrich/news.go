package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

const defaultTickerTickURL = "https://api.tickertick.com"

// NewsSource returns recent news for a symbol
type NewsSource interface {
	LatestNews(ctx context.Context, symbol string, limit int) ([]models.NewsItem, error)
	Name() string
}

// SortByRecency orders items newest first
func SortByRecency(items []models.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

// TickerTickSource reads the TickerTick feed API
type TickerTickSource struct {
	baseURL   string
	client    *http.Client
	converter *md.Converter
}

// NewTickerTickSource creates a TickerTick news source; baseURL may be empty
func NewTickerTickSource(baseURL string, timeout time.Duration) *TickerTickSource {
	if baseURL == "" {
		baseURL = defaultTickerTickURL
	}
	return &TickerTickSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		converter: md.NewConverter("", true, nil),
	}
}

// Name returns "tickertick"
func (s *TickerTickSource) Name() string { return "tickertick" }

type tickerTickFeed struct {
	Stories []struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		URL         *string `json:"url"`
		Site        *string `json:"site"`
		Time        *int64  `json:"time"` // unix milliseconds
	} `json:"stories"`
}

// LatestNews fetches up to limit stories, newest first
func (s *TickerTickSource) LatestNews(ctx context.Context, symbol string, limit int) ([]models.NewsItem, error) {
	if limit <= 0 {
		limit = 2
	}
	q := url.Values{}
	q.Set("q", "z:"+strings.ToLower(symbol))
	q.Set("n", fmt.Sprint(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/feed?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tickertick fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tickertick: status %d", resp.StatusCode)
	}

	var feed tickerTickFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("tickertick decode: %w", err)
	}

	items := make([]models.NewsItem, 0, len(feed.Stories))
	for _, st := range feed.Stories {
		item := models.NewsItem{Source: s.Name()}
		if st.Title != nil {
			item.Title = strings.TrimSpace(*st.Title)
		}
		if st.Description != nil {
			item.Description = s.plainText(*st.Description)
		}
		if st.URL != nil {
			item.URL = *st.URL
		}
		if st.Site != nil {
			item.Source = *st.Site
		}
		if st.Time != nil {
			item.PublishedAt = time.UnixMilli(*st.Time).UTC()
		}
		items = append(items, item)
	}
	SortByRecency(items)
	return items, nil
}

// plainText converts description HTML to markdown text, falling back to the raw string
func (s *TickerTickSource) plainText(html string) string {
	if !strings.Contains(html, "<") {
		return strings.TrimSpace(html)
	}
	text, err := s.converter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(text)
}

// AlpacaNewsSource reads the Alpaca news API
type AlpacaNewsSource struct {
	client *marketdata.Client
}

// NewAlpacaNewsSource wraps an Alpaca market data client
func NewAlpacaNewsSource(client *marketdata.Client) *AlpacaNewsSource {
	return &AlpacaNewsSource{client: client}
}

// Name returns "alpaca"
func (s *AlpacaNewsSource) Name() string { return "alpaca" }

// LatestNews returns up to limit articles, newest first
func (s *AlpacaNewsSource) LatestNews(ctx context.Context, symbol string, limit int) ([]models.NewsItem, error) {
	type response struct {
		news []marketdata.News
		err  error
	}
	done := make(chan response, 1)
	go func() {
		news, err := s.client.GetNews(marketdata.GetNewsRequest{
			Symbols:    []string{symbol},
			Sort:       marketdata.SortDesc,
			TotalLimit: limit,
		})
		done <- response{news: news, err: err}
	}()

	var resp response
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp = <-done:
	}
	if resp.err != nil {
		return nil, fmt.Errorf("alpaca news: %w", resp.err)
	}

	items := make([]models.NewsItem, 0, len(resp.news))
	for _, n := range resp.news {
		items = append(items, models.NewsItem{
			Title:       n.Headline,
			Description: n.Summary,
			URL:         n.URL,
			PublishedAt: n.CreatedAt,
			Source:      s.Name(),
		})
	}
	SortByRecency(items)
	return items, nil
}
