// Package collector fans out to the configured sources, merges their
// fragments with documented defaults and publishes the snapshot to the cache.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"token-risk-lab/internal/cache"
	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/sources"
)

// Options bounds the fan-out.
type Options struct {
	PerSourceTimeout time.Duration
	MaxConcurrency   int
}

// Collector implements collect(address, chainId) -> TokenSnapshot.
type Collector struct {
	registry *sources.Registry
	cache    *cache.SnapshotCache
	opts     Options
	log      zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// New creates a Collector. snapshots and metrics may be nil.
func New(registry *sources.Registry, snapshots *cache.SnapshotCache, opts Options, log zerolog.Logger, metrics *observability.Metrics) *Collector {
	if opts.PerSourceTimeout <= 0 {
		opts.PerSourceTimeout = 15 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	return &Collector{
		registry: registry,
		cache:    snapshots,
		opts:     opts,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Collect returns the snapshot for a token, served from the cache when fresh.
// Concurrent calls for the same subject share one fetch. Source failures never
// surface here; the only errors are an invalid subject or ctx ending.
func (c *Collector) Collect(ctx context.Context, address string, chainID int64) (*domain.TokenSnapshot, error) {
	subject, err := domain.NormalizeSubject(address, chainID)
	if err != nil {
		return nil, err
	}

	if c.cache == nil {
		return c.fetch(ctx, subject)
	}

	snap, hit, err := c.cache.GetOrLoad(ctx, subject.Key(), func(ctx context.Context) (*domain.TokenSnapshot, error) {
		return c.fetch(ctx, subject)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		c.log.Debug().Str("address", subject.Address).Int64("chain_id", subject.ChainID).Msg("snapshot served from cache")
	}
	return snap, nil
}

type outcome struct {
	frag domain.Fragment
	err  error
}

func (c *Collector) fetch(ctx context.Context, subject domain.Subject) (*domain.TokenSnapshot, error) {
	supported, unsupported := c.registry.Split(subject.ChainID)
	results := make([]outcome, len(supported))

	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrency)
	for i, src := range supported {
		i, src := i, src
		g.Go(func() error {
			results[i] = c.fetchOne(ctx, src, subject)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &domain.TokenSnapshot{
		Address:     subject.Address,
		ChainID:     subject.ChainID,
		CollectedAt: c.now().UTC(),
	}

	// Defaults of sources that do not cover the chain go first so they never
	// overwrite what a covering source reported.
	for _, src := range unsupported {
		src.Default().Apply(snap)
		c.metrics.RecordSourceCall(src.Name(), "skipped", 0)
	}
	for i, src := range supported {
		if results[i].err != nil {
			src.Default().Apply(snap)
			snap.FailedSources = append(snap.FailedSources, src.Name())
			continue
		}
		results[i].frag.Apply(snap)
	}
	snap.Finalize()

	c.log.Debug().
		Str("address", subject.Address).
		Int64("chain_id", subject.ChainID).
		Int("sources", len(supported)).
		Strs("failed_sources", snap.FailedSources).
		Msg("snapshot collected")

	return snap, nil
}

func (c *Collector) fetchOne(ctx context.Context, src sources.Source, subject domain.Subject) outcome {
	sctx, cancel := context.WithTimeout(ctx, c.opts.PerSourceTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		frag, err := src.Fetch(sctx, subject.Address, subject.ChainID)
		if err == nil && frag == nil {
			err = sources.ErrNoData
		}
		done <- outcome{frag: frag, err: err}
	}()

	// A source that ignores its context still cannot hold up the batch.
	var out outcome
	select {
	case out = <-done:
	case <-sctx.Done():
		out = outcome{err: fmt.Errorf("timed out after %s: %w", c.opts.PerSourceTimeout, sctx.Err())}
	}

	if out.err != nil {
		out.err = &sources.SourceError{Source: src.Name(), Err: out.err}
		c.log.Warn().
			Str("source", src.Name()).
			Str("address", subject.Address).
			Int64("chain_id", subject.ChainID).
			Err(out.err).
			Msg("source failed, using defaults")
		c.metrics.RecordSourceCall(src.Name(), "error", time.Since(start))
		return out
	}
	c.metrics.RecordSourceCall(src.Name(), "ok", time.Since(start))
	return out
}
