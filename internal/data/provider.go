package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

var (
	// ErrUnknownProvider is returned by the factory for unregistered provider types
	ErrUnknownProvider = errors.New("unknown provider type")
	// ErrProviderAlreadyRegistered is returned when a provider type is registered twice
	ErrProviderAlreadyRegistered = errors.New("provider type already registered")
)

// Provider defines the interface for daily market data providers
type Provider interface {
	// FetchDailyBars returns daily bars for the requested symbols.
	// Symbols without data are absent from the result. An error means the
	// whole batch failed.
	FetchDailyBars(ctx context.Context, symbols []string, lookbackDays int) (map[string]models.PriceSeries, error)

	// Name returns the name/type of the provider (e.g., "yahoo", "alpaca")
	Name() string
}

// ProviderFactory creates provider instances
type ProviderFactory interface {
	// CreateProvider creates a new provider instance based on the provider type
	CreateProvider(providerType string, config ProviderConfig) (Provider, error)

	// RegisterProvider registers a custom provider factory function
	RegisterProvider(providerType string, factoryFunc func(ProviderConfig) (Provider, error)) error

	// ListProviders returns a sorted list of available provider types
	ListProviders() []string
}

// ProviderConfig holds configuration for a provider
type ProviderConfig struct {
	// Provider-specific configuration
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string

	// Request settings
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	Workers    int
	HTTPClient *http.Client
}

func (c ProviderConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c ProviderConfig) workers() int {
	if c.Workers <= 0 {
		return 8
	}
	return c.Workers
}

// DefaultProviderFactory is the default implementation of ProviderFactory
type DefaultProviderFactory struct {
	factories map[string]func(ProviderConfig) (Provider, error)
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory() *DefaultProviderFactory {
	factory := &DefaultProviderFactory{
		factories: make(map[string]func(ProviderConfig) (Provider, error)),
	}

	// Register built-in providers
	_ = factory.RegisterProvider("mock", NewMockProvider)
	_ = factory.RegisterProvider("yahoo", NewYahooProvider)
	_ = factory.RegisterProvider("alpaca", NewAlpacaProvider)

	return factory
}

// CreateProvider creates a new provider instance
func (f *DefaultProviderFactory) CreateProvider(providerType string, config ProviderConfig) (Provider, error) {
	factoryFunc, exists := f.factories[providerType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}

	return factoryFunc(config)
}

// RegisterProvider registers a custom provider factory function
func (f *DefaultProviderFactory) RegisterProvider(providerType string, factoryFunc func(ProviderConfig) (Provider, error)) error {
	if _, exists := f.factories[providerType]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, providerType)
	}
	f.factories[providerType] = factoryFunc
	return nil
}

// ListProviders returns a list of available provider types
func (f *DefaultProviderFactory) ListProviders() []string {
	providers := make([]string, 0, len(f.factories))
	for providerType := range f.factories {
		providers = append(providers, providerType)
	}
	sort.Strings(providers)
	return providers
}

// trimToLookback keeps the most recent lookbackDays bars, sorted oldest first
func trimToLookback(series models.PriceSeries, lookbackDays int) models.PriceSeries {
	sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	if lookbackDays > 0 && len(series) > lookbackDays {
		series = series[len(series)-lookbackDays:]
	}
	return series
}
