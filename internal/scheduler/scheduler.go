// Package scheduler triggers screening refreshes on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/screener"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// Runner runs one screening refresh
type Runner interface {
	RunScan(ctx context.Context, opts screener.RunOptions) (*models.ScanBatch, error)
}

// Scheduler runs refreshes on a cron spec with a seconds field.
// A trigger that fires while a run is in flight is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	spec    string
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool
	fired   atomic.Int64
	skipped atomic.Int64
}

// New creates a scheduler. An empty spec yields a scheduler that only runs on demand.
// timeout bounds each run; zero leaves it to the pipeline.
func New(spec string, runner Runner, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{})),
		runner:  runner,
		spec:    spec,
		timeout: timeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if spec != "" {
		if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
			return nil, fmt.Errorf("invalid scheduler cron %q: %w", spec, err)
		}
	}
	return s, nil
}

// NewFromConfig builds the scheduler from configuration
func NewFromConfig(cfg config.SchedulerConfig, runner Runner, timeout time.Duration) (*Scheduler, error) {
	return New(cfg.Cron, runner, timeout)
}

// Start starts the cron loop, running once immediately when runOnStart is set
func (s *Scheduler) Start(runOnStart bool) {
	s.cron.Start()
	logger.Info("Scheduler started",
		logger.String("cron", s.spec),
		logger.Bool("run_on_start", runOnStart),
	)
	if runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunNow()
		}()
	}
}

// Stop stops the cron loop, cancels an in-flight run and waits for it
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

// Next returns the next scheduled trigger, or zero when no spec is set
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) trigger() {
	s.fired.Add(1)
	s.RunNow()
}

// RunNow runs a refresh unless one is already in flight and reports whether it ran
func (s *Scheduler) RunNow() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		logger.Warn("Skipping scheduled refresh, previous run still in flight")
		return false
	}
	defer s.running.Store(false)

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	batch, err := s.runner.RunScan(ctx, screener.RunOptions{})
	if err != nil {
		logger.Warn("Scheduled refresh failed",
			logger.ErrorField(err),
			logger.Duration("duration", time.Since(start)),
		)
		return true
	}
	logger.Info("Scheduled refresh completed",
		logger.BatchID(batch.ID),
		logger.Int("rows", len(batch.Rows)),
		logger.Int("matches", len(batch.Matches())),
		logger.Duration("duration", time.Since(start)),
	)
	return true
}

// Stats returns how often the cron fired and how many triggers were skipped
func (s *Scheduler) Stats() (fired, skipped int64) {
	return s.fired.Load(), s.skipped.Load()
}

// cronLogger routes cron's own logging through zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Get().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Get().Sugar().Errorw("cron: "+msg, append(keysAndValues, zap.Error(err))...)
}
