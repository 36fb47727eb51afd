package screener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/data"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/tickers"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// TickerSet supplies the symbols a run scans
type TickerSet interface {
	Current(ctx context.Context) tickers.Result
	ShuffleN(ctx context.Context, n int) tickers.Result
	Size() int
}

// FloatEnricher resolves float strings for a set of symbols
type FloatEnricher interface {
	ResolveAll(ctx context.Context, symbols []string) map[string]string
}

// CatalystEnricher resolves catalysts for a set of symbols
type CatalystEnricher interface {
	ResolveAll(ctx context.Context, symbols []string) map[string]models.Catalyst
}

// BatchStore archives completed batches
type BatchStore interface {
	Save(ctx context.Context, batch *models.ScanBatch) error
}

// BatchPublisher announces completed batches
type BatchPublisher interface {
	PublishBatch(ctx context.Context, batch *models.ScanBatch) error
}

// Config holds the per-run parameters. It is read-only once the pipeline is built.
type Config struct {
	Thresholds   models.CriteriaThresholds
	Policy       models.MatchPolicy
	LookbackDays int
	FallbackSize int
	FallbackSort string
	EnrichMax    int
	CatalystMax  int
	RunTimeout   time.Duration
}

// DefaultConfig returns the warrior thresholds with float_required
func DefaultConfig() Config {
	return Config{
		Thresholds:   config.WarriorThresholds,
		Policy:       models.PolicyFloatRequired,
		LookbackDays: 30,
		FallbackSize: 10,
		FallbackSort: SortByPrice,
		EnrichMax:    50,
		CatalystMax:  15,
		RunTimeout:   2 * time.Minute,
	}
}

// ConfigFrom maps application config onto pipeline settings
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Thresholds:   cfg.Screener.Thresholds,
		Policy:       cfg.Screener.Policy,
		LookbackDays: cfg.Screener.LookbackDays,
		FallbackSize: cfg.Screener.FallbackSize,
		FallbackSort: cfg.Screener.FallbackSort,
		EnrichMax:    cfg.Screener.EnrichMax,
		CatalystMax:  cfg.Screener.CatalystMax,
		RunTimeout:   cfg.Timeouts.Run,
	}
}

// RunOptions adjusts a single run
type RunOptions struct {
	// SampleSize draws a fresh sample of this size when it differs from the held one
	SampleSize int
	// Reshuffle draws a fresh sample before scanning
	Reshuffle bool
}

// Stats holds pipeline counters
type Stats struct {
	Runs            int64
	Failed          int64
	Superseded      int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastRowCount    int
	LastMatchCount  int
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStore archives every committed batch
func WithStore(s BatchStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithPublisher adds a publisher notified of every committed batch
func WithPublisher(pub BatchPublisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.publishers = append(p.publishers, pub)
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs screening scans and holds the current batch
type Pipeline struct {
	cfg        Config
	tickers    TickerSet
	provider   data.Provider
	floats     FloatEnricher
	catalysts  CatalystEnricher
	store      BatchStore
	publishers []BatchPublisher
	now        func() time.Time

	seq atomic.Uint64

	mu           sync.RWMutex
	current      *models.ScanBatch
	committedSeq uint64
	stage        Stage
	stats        Stats
}

// New creates a pipeline
func New(cfg Config, ts TickerSet, provider data.Provider, floats FloatEnricher, catalysts CatalystEnricher, opts ...Option) *Pipeline {
	if provider == nil {
		panic("provider cannot be nil")
	}
	p := &Pipeline{
		cfg:       cfg,
		tickers:   ts,
		provider:  provider,
		floats:    floats,
		catalysts: catalysts,
		now:       time.Now,
		stage:     StageIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunScan acquires the session's ticker sample and scans it
func (p *Pipeline) RunScan(ctx context.Context, opts RunOptions) (*models.ScanBatch, error) {
	seq := p.seq.Add(1)
	ctx, cancel := p.runContext(ctx)
	defer cancel()

	batch := p.newBatch(ctx)
	p.transition(ctx, StageAcquire)
	start := time.Now()

	var res tickers.Result
	switch {
	case p.tickers == nil:
	case opts.Reshuffle:
		res = p.tickers.ShuffleN(ctx, p.sampleSize(opts))
	case opts.SampleSize > 0 && opts.SampleSize != p.tickers.Size():
		res = p.tickers.ShuffleN(ctx, opts.SampleSize)
	default:
		res = p.tickers.Current(ctx)
	}
	observeStage(StageAcquire, start)

	if res.Warning != nil {
		batch.Warnings = append(batch.Warnings, res.Warning.Error())
	}
	return p.scan(ctx, seq, batch, res.Symbols)
}

// RunScanWithTargetSet scans the given symbols, skipping acquisition
func (p *Pipeline) RunScanWithTargetSet(ctx context.Context, symbols []string, _ RunOptions) (*models.ScanBatch, error) {
	seq := p.seq.Add(1)
	ctx, cancel := p.runContext(ctx)
	defer cancel()

	batch := p.newBatch(ctx)
	return p.scan(ctx, seq, batch, tickers.Normalize(symbols))
}

func (p *Pipeline) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = logger.WithRunID(ctx, logger.NewRunID())
	if p.cfg.RunTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.RunTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) newBatch(ctx context.Context) *models.ScanBatch {
	return &models.ScanBatch{
		ID:         logger.GetRunID(ctx),
		StartedAt:  p.now().UTC(),
		Policy:     p.cfg.Policy,
		Thresholds: p.cfg.Thresholds,
		Rows:       []models.ScanRow{},
		Candidates: []string{},
	}
}

// targetCap bounds the target set so every target gets both lookups
func (p *Pipeline) targetCap() int {
	limit := p.cfg.EnrichMax
	if p.cfg.CatalystMax > 0 && (limit <= 0 || p.cfg.CatalystMax < limit) {
		limit = p.cfg.CatalystMax
	}
	return limit
}

func (p *Pipeline) sampleSize(opts RunOptions) int {
	if opts.SampleSize > 0 {
		return opts.SampleSize
	}
	return p.tickers.Size()
}

// scan runs FETCH_METRICS through ASSEMBLED for symbols
func (p *Pipeline) scan(ctx context.Context, seq uint64, batch *models.ScanBatch, symbols []string) (*models.ScanBatch, error) {
	log := logger.WithContext(ctx)
	runStart := time.Now()
	batch.Requested = len(symbols)

	if len(symbols) == 0 {
		return p.fail(ctx, batch, runStart, models.ErrNoTickers)
	}

	p.transition(ctx, StageFetch)
	start := time.Now()
	bars, err := p.provider.FetchDailyBars(ctx, symbols, p.cfg.LookbackDays)
	observeStage(StageFetch, start)
	if err != nil {
		return p.fail(ctx, batch, runStart, fmt.Errorf("%w: %v", models.ErrBatchFetch, err))
	}

	p.transition(ctx, StageEvaluate)
	start = time.Now()
	observedAt := p.now().UTC()
	rows, skipped := data.NormalizeBatch(symbols, bars, observedAt)
	for i := range rows {
		rows[i] = Apply(rows[i], p.cfg.Thresholds, p.cfg.Policy)
	}
	targets, fallback := SelectTargets(rows, p.cfg.FallbackSize, p.cfg.FallbackSort, p.targetCap())
	observeStage(StageEvaluate, start)

	log.Info("Evaluated batch",
		logger.Int("requested", len(symbols)),
		logger.Int("rows", len(rows)),
		logger.Int("targets", len(targets)),
		logger.Bool("fallback", fallback),
		logger.Any("skipped", skipped),
	)

	floats, catalysts := p.enrich(ctx, targets)
	if err := ctx.Err(); err != nil {
		// resolvers degrade to sentinels once ctx is done
		return p.fail(ctx, batch, runStart, err)
	}

	enriched := make(map[string]bool, len(targets))
	for _, s := range targets {
		enriched[s] = true
	}
	for i := range rows {
		sym := rows[i].Symbol
		if !enriched[sym] {
			continue
		}
		rows[i].Enriched = true
		if f, ok := floats[sym]; ok {
			rows[i].Float = f
		}
		if c, ok := catalysts[sym]; ok {
			rows[i].Catalyst = c.Summary
			rows[i].CatalystURL = c.URL
		}
		rows[i] = Apply(rows[i], p.cfg.Thresholds, p.cfg.Policy)
	}

	p.transition(ctx, StageAssembled)
	batch.Rows = rows
	batch.Candidates = targets
	batch.Fallback = fallback
	batch.CompletedAt = p.now().UTC()

	if err := p.commit(ctx, seq, batch, runStart); err != nil {
		return batch, err
	}
	return batch, nil
}

// enrich runs ENRICH_FLOAT and RESOLVE_CATALYSTS concurrently over targets
func (p *Pipeline) enrich(ctx context.Context, targets []string) (map[string]string, map[string]models.Catalyst) {
	var (
		floats    map[string]string
		catalysts map[string]models.Catalyst
		wg        sync.WaitGroup
	)
	if len(targets) == 0 {
		return floats, catalysts
	}

	p.transition(ctx, StageFloat)
	if p.floats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			floats = p.floats.ResolveAll(ctx, targets)
			observeStage(StageFloat, start)
		}()
	}

	p.transition(ctx, StageCatalysts)
	if p.catalysts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			catalysts = p.catalysts.ResolveAll(ctx, targets)
			observeStage(StageCatalysts, start)
		}()
	}

	wg.Wait()
	return floats, catalysts
}

// fail assembles an empty batch carrying err. The current batch is left untouched.
func (p *Pipeline) fail(ctx context.Context, batch *models.ScanBatch, runStart time.Time, err error) (*models.ScanBatch, error) {
	p.transition(ctx, StageAssembled)
	batch.Rows = []models.ScanRow{}
	batch.Candidates = []string{}
	batch.Error = err.Error()
	batch.CompletedAt = p.now().UTC()

	logger.WithContext(ctx).Error("Screening run failed",
		logger.Int("requested", batch.Requested),
		logger.ErrorField(err),
	)
	logger.ScanRunsTotal.WithLabelValues("failed").Inc()

	p.mu.Lock()
	p.stats.Runs++
	p.stats.Failed++
	p.stats.LastRunAt = batch.CompletedAt
	p.stats.LastRunDuration = time.Since(runStart)
	p.stage = StageIdle
	p.mu.Unlock()
	return batch, err
}

// commit replaces the current batch unless a newer run already committed
func (p *Pipeline) commit(ctx context.Context, seq uint64, batch *models.ScanBatch, runStart time.Time) error {
	log := logger.WithContext(ctx)
	matches := len(batch.Matches())

	p.mu.Lock()
	p.stats.Runs++
	p.stats.LastRunAt = batch.CompletedAt
	p.stats.LastRunDuration = time.Since(runStart)
	p.stage = StageIdle
	if seq < p.committedSeq {
		p.stats.Superseded++
		p.mu.Unlock()
		logger.ScanRunsTotal.WithLabelValues("superseded").Inc()
		log.Warn("Discarding superseded screening run", logger.BatchID(batch.ID))
		return models.ErrSuperseded
	}
	p.current = batch.Clone()
	p.committedSeq = seq
	p.stats.LastRowCount = len(batch.Rows)
	p.stats.LastMatchCount = matches
	p.mu.Unlock()

	status := "ok"
	if len(batch.Warnings) > 0 {
		status = "degraded"
	}
	logger.ScanRunsTotal.WithLabelValues(status).Inc()
	logger.ScanRows.WithLabelValues("scanned").Set(float64(len(batch.Rows)))
	logger.ScanRows.WithLabelValues("matched").Set(float64(matches))
	logger.ScanRows.WithLabelValues("enriched").Set(float64(len(batch.Candidates)))

	log.Info("Screening run completed",
		logger.BatchID(batch.ID),
		logger.Int("rows", len(batch.Rows)),
		logger.Int("matches", matches),
		logger.Int("candidates", len(batch.Candidates)),
		logger.Duration("duration", time.Since(runStart)),
	)

	// Archive and publish are not bound by the run deadline.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if p.store != nil {
		if err := p.store.Save(sideCtx, batch.Clone()); err != nil {
			log.Warn("Failed to archive batch", logger.BatchID(batch.ID), logger.ErrorField(err))
		}
	}
	for _, pub := range p.publishers {
		if err := pub.PublishBatch(sideCtx, batch.Clone()); err != nil {
			log.Warn("Failed to publish batch", logger.BatchID(batch.ID), logger.ErrorField(err))
		}
	}
	return nil
}

func (p *Pipeline) transition(ctx context.Context, stage Stage) {
	p.mu.Lock()
	from := p.stage
	p.stage = stage
	p.mu.Unlock()
	logger.WithContext(ctx).Debug("Pipeline stage",
		logger.String("from", from.String()),
		logger.String("to", stage.String()),
	)
}

// Current returns a copy of the latest committed batch, or nil before the first run
func (p *Pipeline) Current() *models.ScanBatch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// Stage returns the stage the most recent run is in
func (p *Pipeline) Stage() Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

// GetStats returns a snapshot of the pipeline counters
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Thresholds returns the thresholds every run uses
func (p *Pipeline) Thresholds() models.CriteriaThresholds {
	return p.cfg.Thresholds
}

// Policy returns the match policy every run uses
func (p *Pipeline) Policy() models.MatchPolicy {
	return p.cfg.Policy
}

// IsBatchError reports whether err is a batch-level failure rather than a discarded run
func IsBatchError(err error) bool {
	return errors.Is(err, models.ErrNoTickers) || errors.Is(err, models.ErrBatchFetch)
}
