package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// CompanyNamer maps a symbol to a display name for the summary prompt
type CompanyNamer interface {
	CompanyName(ctx context.Context, symbol string) string
}

// CatalystConfig holds the catalyst resolver settings
type CatalystConfig struct {
	NewsTimeout       time.Duration
	SummarizerTimeout time.Duration
	NewsLimit         int
	MaxWords          int
	Workers           int
	MaxSymbols        int
}

func (c CatalystConfig) withDefaults() CatalystConfig {
	if c.NewsTimeout <= 0 {
		c.NewsTimeout = 5 * time.Second
	}
	if c.SummarizerTimeout <= 0 {
		c.SummarizerTimeout = 10 * time.Second
	}
	if c.NewsLimit <= 0 {
		c.NewsLimit = 2
	}
	if c.MaxWords <= 0 {
		c.MaxWords = 50
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = 15
	}
	return c
}

// CatalystResolver turns the latest news item for a symbol into a short catalyst line.
// The summarizer and namer are optional.
type CatalystResolver struct {
	news       NewsSource
	summarizer Summarizer
	namer      CompanyNamer
	cfg        CatalystConfig
}

// NewCatalystResolver creates a resolver
func NewCatalystResolver(news NewsSource, summarizer Summarizer, namer CompanyNamer, cfg CatalystConfig) *CatalystResolver {
	return &CatalystResolver{
		news:       news,
		summarizer: summarizer,
		namer:      namer,
		cfg:        cfg.withDefaults(),
	}
}

// Resolve returns the catalyst for symbol. Every failure degrades to a headline
// or to models.CatalystNotFound; it never returns an error.
func (r *CatalystResolver) Resolve(ctx context.Context, symbol string) (cat models.Catalyst) {
	log := logger.WithContext(ctx)
	cat = models.Catalyst{Summary: models.CatalystNotFound}

	defer func() {
		if p := recover(); p != nil {
			log.Warn("Catalyst resolution panicked",
				logger.Symbol(symbol),
				logger.String("panic", fmt.Sprint(p)),
			)
			cat = models.Catalyst{Summary: models.CatalystNotFound}
		}
		outcome := "resolved"
		if cat.Summary == models.CatalystNotFound {
			outcome = "not_found"
		}
		logger.EnrichmentTotal.WithLabelValues("catalyst", outcome).Inc()
	}()

	if r.news == nil {
		return cat
	}

	item, ok := r.latest(ctx, symbol)
	if !ok {
		return cat
	}
	cat.URL = item.URL

	headline := strings.TrimSpace(item.Title)
	if summary := r.summarize(ctx, symbol, item); summary != "" {
		cat.Summary = summary
	} else if headline != "" {
		cat.Summary = TruncateWords(headline, r.cfg.MaxWords)
	}
	return cat
}

func (r *CatalystResolver) latest(ctx context.Context, symbol string) (models.NewsItem, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.NewsTimeout)
	defer cancel()

	items, err := r.news.LatestNews(ctx, symbol, r.cfg.NewsLimit)
	if err != nil {
		logger.WithContext(ctx).Debug("News fetch failed",
			logger.Symbol(symbol),
			logger.String("source", r.news.Name()),
			logger.ErrorField(err),
		)
		return models.NewsItem{}, false
	}
	if len(items) == 0 {
		return models.NewsItem{}, false
	}
	SortByRecency(items)
	return items[0], true
}

// summarize returns the cleaned, word-bounded summary or "" on any failure
func (r *CatalystResolver) summarize(ctx context.Context, symbol string, item models.NewsItem) string {
	if r.summarizer == nil {
		return ""
	}
	text := strings.TrimSpace(item.Title)
	if desc := strings.TrimSpace(item.Description); desc != "" {
		text = text + ". " + desc
	}
	if text == "" {
		return ""
	}

	company := symbol
	if r.namer != nil {
		company = r.namer.CompanyName(ctx, symbol)
	}

	raw, err := withTimeout(ctx, r.cfg.SummarizerTimeout, r.summarizer, SummaryRequest{
		Symbol:      symbol,
		Company:     company,
		Text:        text,
		TargetWords: r.cfg.MaxWords,
	})
	if err != nil {
		logger.WithContext(ctx).Debug("Summarizer failed",
			logger.Symbol(symbol),
			logger.String("summarizer", r.summarizer.Name()),
			logger.ErrorField(err),
		)
		return ""
	}
	return TruncateWords(CleanSummary(raw), r.cfg.MaxWords)
}

// ResolveAll resolves catalysts for at most MaxSymbols symbols, in input order.
// Symbols beyond the cap are not looked up and get no entry.
func (r *CatalystResolver) ResolveAll(ctx context.Context, symbols []string) map[string]models.Catalyst {
	if len(symbols) > r.cfg.MaxSymbols {
		symbols = symbols[:r.cfg.MaxSymbols]
	}
	out := make(map[string]models.Catalyst, len(symbols))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			cat := models.Catalyst{Summary: models.CatalystNotFound}
			if ctx.Err() == nil {
				cat = r.Resolve(ctx, symbol)
			}
			mu.Lock()
			out[symbol] = cat
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// TruncateWords keeps at most max whitespace-separated words
func TruncateWords(s string, max int) string {
	words := strings.Fields(s)
	if max > 0 && len(words) > max {
		words = words[:max]
	}
	return strings.Join(words, " ")
}
