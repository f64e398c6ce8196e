// Package cache memoizes token snapshots per subject for a short TTL and
// collapses concurrent loads of the same key into one in-flight fetch.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
)

// Backend stores published snapshots. Implementations must treat stored
// snapshots as immutable: Set replaces an entry, it never edits one.
type Backend interface {
	// Get returns the live entry for key. ok is false on miss or expiry.
	Get(ctx context.Context, key string) (snap *domain.TokenSnapshot, ok bool, err error)
	// Set publishes snap under key for ttl.
	Set(ctx context.Context, key string, snap *domain.TokenSnapshot, ttl time.Duration) error
}

// Loader produces a fresh snapshot on a miss.
type Loader func(ctx context.Context) (*domain.TokenSnapshot, error)

// SnapshotCache fronts a Backend with request coalescing.
type SnapshotCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New creates a SnapshotCache. metrics may be nil.
func New(backend Backend, ttl time.Duration, log zerolog.Logger, metrics *observability.Metrics) *SnapshotCache {
	return &SnapshotCache{
		backend: backend,
		ttl:     ttl,
		log:     log,
		metrics: metrics,
	}
}

// TTL returns the entry lifetime.
func (c *SnapshotCache) TTL() time.Duration { return c.ttl }

// GetOrLoad returns the cached snapshot for key, or runs load once for all
// concurrent callers of the same key and publishes its result.
// hit reports whether the snapshot was served from the backend.
// Every caller receives its own copy.
func (c *SnapshotCache) GetOrLoad(ctx context.Context, key string, load Loader) (*domain.TokenSnapshot, bool, error) {
	if snap, ok := c.lookup(ctx, key); ok {
		c.metrics.RecordCache("hit")
		c.log.Debug().Str("key", key).Msg("snapshot cache hit")
		return snap.Clone(), true, nil
	}

	// The flight outlives any single waiter so a cancelled caller does not
	// fail the others sharing it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A flight that finished between our lookup and DoChan already published.
		if snap, ok := c.lookup(flightCtx, key); ok {
			return snap, nil
		}
		c.metrics.RecordCache("miss")

		snap, err := load(flightCtx)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("loader returned nil snapshot for %s", key)
		}
		if err := c.backend.Set(flightCtx, key, snap, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("snapshot cache write failed")
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.metrics.RecordCache("coalesced")
		}
		return res.Val.(*domain.TokenSnapshot).Clone(), false, nil
	}
}

// Invalidate drops key so the next GetOrLoad refetches.
func (c *SnapshotCache) Invalidate(ctx context.Context, key string) error {
	if d, ok := c.backend.(interface {
		Delete(ctx context.Context, key string) error
	}); ok {
		return d.Delete(ctx, key)
	}
	return nil
}

func (c *SnapshotCache) lookup(ctx context.Context, key string) (*domain.TokenSnapshot, bool) {
	snap, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("snapshot cache read failed, treating as miss")
		return nil, false
	}
	return snap, ok
}
