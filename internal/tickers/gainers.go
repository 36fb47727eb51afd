package tickers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultGainersURL = "https://finance.yahoo.com/markets/stocks/gainers/?start=0&count=100"

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// GainersSource scrapes the Yahoo "top gainers" table
type GainersSource struct {
	URL    string
	Client *http.Client
}

// NewGainersSource creates a gainers scraper; an empty url uses Yahoo's page
func NewGainersSource(url string, timeout time.Duration) *GainersSource {
	if url == "" {
		url = defaultGainersURL
	}
	return &GainersSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Name returns "gainers"
func (s *GainersSource) Name() string { return "gainers" }

// Tickers returns the Symbol column of the first table that has one
func (s *GainersSource) Tickers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gainers fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gainers: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gainers parse: %w", err)
	}
	return symbolColumn(doc), nil
}

func symbolColumn(doc *goquery.Document) []string {
	var symbols []string
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		col := -1
		table.Find("thead th").EachWithBreak(func(i int, th *goquery.Selection) bool {
			if strings.EqualFold(strings.TrimSpace(th.Text()), "symbol") {
				col = i
				return false
			}
			return true
		})
		if col < 0 {
			return true
		}

		table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			cell := tr.Find("td").Eq(col)
			// Symbol cells wrap the ticker in a link with extra spans
			text := strings.TrimSpace(cell.Find("a").First().Text())
			if text == "" {
				text = strings.TrimSpace(cell.Text())
			}
			if fields := strings.Fields(text); len(fields) > 0 {
				symbols = append(symbols, fields[0])
			}
		})
		return false
	})
	return symbols
}
