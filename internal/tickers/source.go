// Package tickers acquires the symbol universe that a screening run samples from.
package tickers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
)

// Source returns raw ticker strings in source order
type Source interface {
	Tickers(ctx context.Context) ([]string, error)
	Name() string
}

// URLSource downloads a newline-separated ticker list
type URLSource struct {
	URL    string
	Client *http.Client
}

// NewURLSource creates a URL list source with a bounded client timeout
func NewURLSource(url string, timeout time.Duration) *URLSource {
	return &URLSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Name returns "url"
func (s *URLSource) Name() string { return "url" }

// Tickers fetches the list and returns one entry per non-empty line
func (s *URLSource) Tickers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticker list fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ticker list: status %d", resp.StatusCode)
	}

	var out []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ticker list read: %w", err)
	}
	return out, nil
}

// StaticSource returns a fixed list
type StaticSource struct {
	Symbols []string
}

// Name returns "static"
func (s StaticSource) Name() string { return "static" }

// Tickers returns a copy of the configured symbols
func (s StaticSource) Tickers(context.Context) ([]string, error) {
	return append([]string(nil), s.Symbols...), nil
}

// NewSourceFromConfig builds the configured ticker source
func NewSourceFromConfig(cfg config.TickersConfig, timeout time.Duration) (Source, error) {
	switch cfg.Source {
	case "", "url":
		return NewURLSource(cfg.URL, timeout), nil
	case "gainers":
		return NewGainersSource("", timeout), nil
	case "static":
		return StaticSource{Symbols: cfg.Static}, nil
	default:
		return nil, fmt.Errorf("unknown ticker source: %s", cfg.Source)
	}
}
