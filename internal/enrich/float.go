// Package enrich resolves per-symbol float and catalyst context for a screening run.
package enrich

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
	"github.com/mohamedkhairy/momentum-screener/pkg/magnitude"
)

// FloatSource returns a share count for a symbol. A zero count means "not available".
type FloatSource interface {
	SharesFloat(ctx context.Context, symbol string) (float64, error)
	Name() string
}

// FloatResolver tries sources in a fixed order and formats the first positive count
type FloatResolver struct {
	sources []FloatSource
	timeout time.Duration
	workers int
}

// NewFloatResolver creates a resolver. Sources are tried in the order given.
func NewFloatResolver(sources []FloatSource, timeout time.Duration, workers int) *FloatResolver {
	if workers <= 0 {
		workers = 20
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FloatResolver{sources: sources, timeout: timeout, workers: workers}
}

// Resolve returns a magnitude string such as "15.50M", or models.FloatUnresolved.
// It never fails.
func (r *FloatResolver) Resolve(ctx context.Context, symbol string) string {
	for _, src := range r.sources {
		count, err := r.try(ctx, src, symbol)
		if err != nil {
			logger.WithContext(ctx).Debug("Float source failed",
				logger.Symbol(symbol),
				logger.String("source", src.Name()),
				logger.ErrorField(err),
			)
			continue
		}
		if count > 0 && !math.IsInf(count, 0) {
			logger.EnrichmentTotal.WithLabelValues("float", "resolved").Inc()
			return magnitude.Format(count)
		}
	}
	logger.EnrichmentTotal.WithLabelValues("float", "unresolved").Inc()
	return models.FloatUnresolved
}

// try calls one source under its own timeout and turns a panic into an error
func (r *FloatResolver) try(ctx context.Context, src FloatSource, symbol string) (count float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("float source %s panicked: %v", src.Name(), p)
		}
	}()
	count, err = src.SharesFloat(ctx, symbol)
	if math.IsNaN(count) {
		count = 0
	}
	return count, err
}

// ResolveAll resolves every symbol with at most workers lookups in flight.
// Each symbol gets an entry; failures map to models.FloatUnresolved.
func (r *FloatResolver) ResolveAll(ctx context.Context, symbols []string) map[string]string {
	out := make(map[string]string, len(symbols))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			value := models.FloatUnresolved
			if ctx.Err() == nil {
				value = r.Resolve(ctx, symbol)
			}
			mu.Lock()
			out[symbol] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
