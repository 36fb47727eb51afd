package data

import (
	"fmt"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// ProviderConfigFrom maps application config onto provider settings
func ProviderConfigFrom(cfg *config.Config) ProviderConfig {
	return ProviderConfig{
		APIKey:    cfg.MarketData.APIKey,
		APISecret: cfg.MarketData.APISecret,
		BaseURL:   cfg.MarketData.BaseURL,
		Feed:      cfg.MarketData.Feed,
		Timeout:   cfg.Timeouts.MarketData,
		RateLimit: cfg.MarketData.RateLimit,
		Workers:   cfg.Screener.FetchWorkers,
	}
}

// NewFromConfig builds the configured provider with its historical and cache decorators
func NewFromConfig(cfg *config.Config, c *cache.Cache) (Provider, error) {
	provider, err := NewProviderFactory().CreateProvider(cfg.MarketData.Provider, ProviderConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create market data provider: %w", err)
	}

	if cfg.MarketData.Mode == "historical" {
		asOf, err := cfg.MarketData.AsOfDate()
		if err != nil {
			return nil, err
		}
		provider = NewHistoricalProvider(provider, asOf)
		logger.Info("Market data in historical mode", logger.String("as_of", cfg.MarketData.AsOf))
	}

	if c != nil && cfg.Cache.MarketDataTTL > 0 {
		provider = NewCachedProvider(provider, c, cfg.Cache.MarketDataTTL)
	}

	logger.Info("Market data provider ready",
		logger.String("provider", provider.Name()),
		logger.String("mode", cfg.MarketData.Mode),
	)
	return provider, nil
}
