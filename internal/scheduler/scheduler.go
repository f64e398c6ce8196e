// Package scheduler runs periodic housekeeping jobs against the public
// analysis operations: submitting trending tokens, sampling token metrics
// and pruning old records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/queue"
	"token-risk-lab/internal/sources/dex"
	"token-risk-lab/internal/storage"
)

// Job names, used in logs and metrics.
const (
	JobTrending = "trending_monitor"
	JobMetrics  = "metrics_refresher"
	JobCleanup  = "cleanup"
)

// Submitter creates analysis tasks.
type Submitter interface {
	Submit(ctx context.Context, address string, chainID int64) (*domain.AnalysisTask, error)
}

// TrendingFeed lists currently trending tokens.
type TrendingFeed interface {
	TopBoosted(ctx context.Context, limit int) ([]dex.Listing, error)
}

// Collector produces fresh snapshots.
type Collector interface {
	Collect(ctx context.Context, address string, chainID int64) (*domain.TokenSnapshot, error)
}

// Config holds cron specs and job limits.
type Config struct {
	TrendingSpec  string
	TrendingLimit int
	MetricsSpec   string
	MetricsBatch  int
	RecentWindow  time.Duration
	CleanupSpec   string
	Retention     time.Duration
	JobTimeout    time.Duration
}

// Options wires the scheduler. A job whose dependencies are nil is not registered.
type Options struct {
	Config    Config
	Submitter Submitter
	Feed      TrendingFeed
	Collector Collector
	Tasks     storage.TaskStore
	Metrics   storage.TokenMetricsStore
	Logger    zerolog.Logger
	Observer  *observability.Metrics
}

// Scheduler owns a cron instance and the job implementations.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config

	submitter Submitter
	feed      TrendingFeed
	collector Collector
	tasks     storage.TaskStore
	samples   storage.TokenMetricsStore

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers every job that has its dependencies. It fails on an invalid cron spec.
func New(opts Options) (*Scheduler, error) {
	cfg := opts.Config
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 10
	}
	if cfg.MetricsBatch <= 0 {
		cfg.MetricsBatch = 50
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}

	cl := cronLogger{log: opts.Logger}
	s := &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		cfg:       cfg,
		submitter: opts.Submitter,
		feed:      opts.Feed,
		collector: opts.Collector,
		tasks:     opts.Tasks,
		samples:   opts.Metrics,
		log:       opts.Logger,
		metrics:   opts.Observer,
		now:       time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	type entry struct {
		name string
		spec string
		ok   bool
		run  func(ctx context.Context) error
	}
	entries := []entry{
		{JobTrending, cfg.TrendingSpec, s.feed != nil && s.submitter != nil, func(ctx context.Context) error {
			_, err := s.SubmitTrending(ctx)
			return err
		}},
		{JobMetrics, cfg.MetricsSpec, s.collector != nil && s.tasks != nil && s.samples != nil, func(ctx context.Context) error {
			_, err := s.RefreshMetrics(ctx)
			return err
		}},
		{JobCleanup, cfg.CleanupSpec, s.tasks != nil, func(ctx context.Context) error {
			_, err := s.Cleanup(ctx)
			return err
		}},
	}

	for _, e := range entries {
		if e.spec == "" || !e.ok {
			s.log.Debug().Str("job", e.name).Msg("job not registered")
			continue
		}
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.runJob(e.name, e.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
		s.log.Info().Str("job", e.name).Str("spec", e.spec).Msg("job scheduled")
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running jobs and waits for them to return
// or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := run(ctx)
	s.metrics.RecordJob(name, err)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	s.log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
}

// SubmitTrending submits an analysis for each trending token and returns how
// many were submitted. A full queue ends the run early.
func (s *Scheduler) SubmitTrending(ctx context.Context) (int, error) {
	listings, err := s.feed.TopBoosted(ctx, s.cfg.TrendingLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch trending tokens: %w", err)
	}

	submitted := 0
	for _, l := range listings {
		task, err := s.submitter.Submit(ctx, l.Address, l.ChainID)
		switch {
		case err == nil:
			submitted++
			s.log.Debug().Str("task_id", task.ID).Str("address", l.Address).Int64("chain_id", l.ChainID).Msg("trending token submitted")
		case errors.Is(err, domain.ErrInvalidSubject):
			s.log.Warn().Err(err).Str("address", l.Address).Msg("skipping trending token")
		case errors.Is(err, queue.ErrFull):
			return submitted, fmt.Errorf("submit trending tokens: %w", err)
		default:
			return submitted, fmt.Errorf("submit %s: %w", l.Address, err)
		}
	}
	return submitted, nil
}

// RefreshMetrics samples market metrics for recently analyzed tokens and
// stores them stamped with the refresh time. Tokens whose collection fails
// are skipped.
func (s *Scheduler) RefreshMetrics(ctx context.Context) (int, error) {
	subjects, err := s.tasks.RecentSubjects(ctx, s.now().Add(-s.cfg.RecentWindow), s.cfg.MetricsBatch)
	if err != nil {
		return 0, fmt.Errorf("recent subjects: %w", err)
	}
	if len(subjects) == 0 {
		return 0, nil
	}

	var (
		mu        sync.Mutex
		samples   []*domain.TokenMetrics
		sampledAt = s.now().UTC()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, subject := range subjects {
		subject := subject
		g.Go(func() error {
			snap, err := s.collector.Collect(gctx, subject.Address, subject.ChainID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn().Err(err).Str("subject", subject.String()).Msg("metrics collection failed")
				return nil
			}
			// a cached snapshot keeps its original CollectedAt
			m := domain.MetricsFromSnapshot(snap)
			m.SampledAt = sampledAt
			mu.Lock()
			samples = append(samples, m)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}

	if err := s.samples.InsertBulk(ctx, samples); err != nil {
		return 0, fmt.Errorf("store token metrics: %w", err)
	}
	return len(samples), nil
}

// Cleanup deletes finished tasks and metric samples older than the retention.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)

	n, err := s.tasks.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	if s.samples != nil {
		if err := s.samples.DeleteBefore(ctx, cutoff); err != nil {
			return n, fmt.Errorf("delete token metrics: %w", err)
		}
	}
	s.log.Info().Int64("tasks", n).Time("cutoff", cutoff).Msg("old records removed")
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
