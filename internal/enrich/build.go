package enrich

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/data"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// Enrichers bundles the float and catalyst resolvers used by the pipeline
type Enrichers struct {
	Float    *FloatResolver
	Catalyst *CatalystResolver
}

// NewNewsSourceFromConfig returns the configured news source, or nil for "none"
func NewNewsSourceFromConfig(cfg *config.Config) (NewsSource, error) {
	switch cfg.News.Provider {
	case "tickertick", "":
		return NewTickerTickSource(cfg.News.BaseURL, cfg.Timeouts.News), nil
	case "alpaca":
		return NewAlpacaNewsSource(data.NewAlpacaClient(data.ProviderConfigFrom(cfg))), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown news provider: %s", cfg.News.Provider)
	}
}

// NewFromConfig wires the Yahoo float chain, the news source and the summarizer
func NewFromConfig(ctx context.Context, cfg *config.Config, c *cache.Cache) (*Enrichers, error) {
	yahoo := NewYahooClient("", cfg.Timeouts.Float, c, cfg.Cache.TickerTTL)

	news, err := NewNewsSourceFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	summarizer, err := NewSummarizerFromConfig(ctx, cfg.Summarizer)
	if err != nil {
		return nil, err
	}

	e := &Enrichers{
		Float: NewFloatResolver(DefaultFloatSources(yahoo), cfg.Timeouts.Float, cfg.Screener.FloatWorkers),
		Catalyst: NewCatalystResolver(news, summarizer, yahoo, CatalystConfig{
			NewsTimeout:       cfg.Timeouts.News,
			SummarizerTimeout: cfg.Timeouts.Summarizer,
			NewsLimit:         cfg.Screener.NewsLimit,
			MaxWords:          cfg.Screener.SummaryWords,
			Workers:           cfg.Screener.CatalystWorker,
			MaxSymbols:        cfg.Screener.CatalystMax,
		}),
	}

	logger.Info("Enrichment ready",
		logger.String("news", cfg.News.Provider),
		logger.String("summarizer", cfg.Summarizer.Provider),
	)
	return e, nil
}
