// Package app wires configuration into a ready screening pipeline.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/momentum-screener/internal/cache"
	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/data"
	"github.com/mohamedkhairy/momentum-screener/internal/enrich"
	"github.com/mohamedkhairy/momentum-screener/internal/pubsub"
	"github.com/mohamedkhairy/momentum-screener/internal/screener"
	"github.com/mohamedkhairy/momentum-screener/internal/storage"
	"github.com/mohamedkhairy/momentum-screener/internal/tickers"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// App holds the long-lived components of a screener process
type App struct {
	Config    *config.Config
	Cache     *cache.Cache
	Redis     *redis.Client
	Provider  data.Provider
	Session   *tickers.Session
	Enrichers *enrich.Enrichers
	Archive   storage.BatchStore
	Events    pubsub.Publisher
	Pipeline  *screener.Pipeline

	closers []func() error
}

// Option adjusts how New wires the pipeline
type Option func(*options)

type options struct {
	publishers []screener.BatchPublisher
	noArchive  bool
	noEvents   bool
}

// WithPublisher adds an in-process publisher, such as the WebSocket hub
func WithPublisher(p screener.BatchPublisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p) }
}

// WithoutArchive skips the batch archive
func WithoutArchive() Option {
	return func(o *options) { o.noArchive = true }
}

// WithoutEvents skips the event publisher
func WithoutEvents() Option {
	return func(o *options) { o.noEvents = true }
}

// New builds every component in dependency order. On error the components
// built so far are closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Cache, err = cache.NewFromConfig(cfg.Cache, cfg.Redis); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.closers = append(a.closers, a.Cache.Close)

	if a.Provider, err = data.NewFromConfig(cfg, a.Cache); err != nil {
		return nil, err
	}

	source, err := tickers.NewSourceFromConfig(cfg.Tickers, cfg.Timeouts.Tickers)
	if err != nil {
		return nil, err
	}
	acquirer := tickers.NewAcquirer(source, cfg.Tickers.Fallback,
		tickers.WithCache(a.Cache, cfg.Cache.TickerTTL),
		tickers.WithTimeout(cfg.Timeouts.Tickers),
	)
	a.Session = tickers.NewSession(acquirer, cfg.Screener.SampleSize)

	if a.Enrichers, err = enrich.NewFromConfig(ctx, cfg, a.Cache); err != nil {
		return nil, fmt.Errorf("enrichment: %w", err)
	}

	pipeOpts := make([]screener.Option, 0, len(o.publishers)+2)

	if !o.noArchive {
		if a.Archive, err = storage.NewFromConfig(cfg.Database); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		a.closers = append(a.closers, a.Archive.Close)
		pipeOpts = append(pipeOpts, screener.WithStore(a.Archive))
	}

	if !o.noEvents {
		if cfg.Events.Backend == "redis" {
			if a.Redis, err = cache.NewRedisClient(cfg.Redis); err != nil {
				return nil, fmt.Errorf("events: %w", err)
			}
			a.closers = append(a.closers, a.Redis.Close)
		}
		if a.Events, err = pubsub.NewFromConfig(cfg.Events, a.Redis); err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		a.closers = append(a.closers, a.Events.Close)
		pipeOpts = append(pipeOpts, screener.WithPublisher(a.Events))
	}

	for _, p := range o.publishers {
		pipeOpts = append(pipeOpts, screener.WithPublisher(p))
	}

	a.Pipeline = screener.New(screener.ConfigFrom(cfg), a.Session, a.Provider,
		a.Enrichers.Float, a.Enrichers.Catalyst, pipeOpts...)

	logger.Info("Screener assembled",
		logger.String("provider", a.Provider.Name()),
		logger.String("policy", string(cfg.Screener.Policy)),
		logger.Int("sample_size", cfg.Screener.SampleSize),
		logger.String("archive", cfg.Database.Driver),
		logger.String("events", cfg.Events.Backend),
	)
	return a, nil
}

// Ready checks the backing services a request may touch
func (a *App) Ready(ctx context.Context) error {
	if a.Archive != nil {
		if _, err := a.Archive.List(ctx, 1); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases components in reverse construction order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
