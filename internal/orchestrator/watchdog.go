package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/queue"
	"token-risk-lab/internal/storage"
)

// WatchdogReason is recorded on tasks the watchdog fails.
const WatchdogReason = "watchdog timeout"

// Watchdog fails RUNNING tasks that stopped making progress, e.g. because
// their worker died. PENDING tasks whose id never reached a worker (lost with
// a closed in-memory queue or a flushed redis list) are re-enqueued once and
// failed if they are still pending a full staleAfter later.
type Watchdog struct {
	store      storage.TaskStore
	queue      queue.Queue
	staleAfter time.Duration
	every      time.Duration
	log        zerolog.Logger
	now        func() time.Time

	// requeued remembers when a pending id was last handed back to the queue.
	requeued map[string]time.Time
}

// NewWatchdog creates a watchdog sweeping every interval. q may be nil, in
// which case stale pending tasks are failed without a retry.
func NewWatchdog(store storage.TaskStore, q queue.Queue, staleAfter, every time.Duration, log zerolog.Logger) *Watchdog {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Watchdog{
		store:      store,
		queue:      q,
		staleAfter: staleAfter,
		every:      every,
		log:        log,
		now:        time.Now,
		requeued:   make(map[string]time.Time),
	}
}

// Run sweeps until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error().Err(err).Msg("watchdog sweep failed")
			}
		}
	}
}

// Sweep fails every stale running task, then recovers or fails stale pending
// tasks. It returns how many tasks it failed. A task that cannot be read or
// failed is logged and skipped; those errors are joined into the result.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.now().UTC()
	cutoff := now.Add(-w.staleAfter)

	var errs []error
	failed := 0

	ids, err := w.store.ListStale(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("list stale tasks: %w", err))
	}
	for _, id := range ids {
		task, err := w.store.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				errs = append(errs, w.taskError("get", id, err))
			}
			continue
		}
		if ok, err := w.fail(ctx, id, task.CurrentStep, now); err != nil {
			errs = append(errs, err)
		} else if ok {
			failed++
		}
	}

	pending, err := w.store.ListPending(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pending tasks: %w", err))
		return failed, errors.Join(errs...)
	}
	n, pendingErrs := w.sweepPending(ctx, pending, now)
	return failed + n, errors.Join(append(errs, pendingErrs...)...)
}

func (w *Watchdog) sweepPending(ctx context.Context, ids []string, now time.Time) (int, []error) {
	var errs []error
	failed := 0
	still := make(map[string]bool, len(ids))

	for _, id := range ids {
		still[id] = true

		at, seen := w.requeued[id]
		if w.queue != nil && !seen {
			if err := w.queue.Enqueue(ctx, id); err != nil {
				w.log.Warn().Err(err).Str("task_id", id).Msg("requeue pending task failed")
			} else {
				w.requeued[id] = now
				w.log.Warn().Str("task_id", id).Msg("pending task requeued by watchdog")
				continue
			}
		} else if seen && now.Sub(at) < w.staleAfter {
			continue
		}

		ok, err := w.fail(ctx, id, domain.StepQueued, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		delete(w.requeued, id)
		if ok {
			failed++
		}
	}

	for id := range w.requeued {
		if !still[id] {
			delete(w.requeued, id)
		}
	}
	return failed, errs
}

// fail reports false without error when the task finished or vanished meanwhile.
func (w *Watchdog) fail(ctx context.Context, id string, step domain.AnalysisStep, now time.Time) (bool, error) {
	err := w.store.Fail(ctx, id, domain.Failure{Step: step, Reason: WatchdogReason}, now)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, w.taskError("fail", id, err)
	}
	w.log.Warn().Str("task_id", id).Str("step", string(step)).Msg("stale task failed by watchdog")
	return true, nil
}

func (w *Watchdog) taskError(op, id string, err error) error {
	w.log.Error().Err(err).Str("task_id", id).Msgf("watchdog %s task failed", op)
	return fmt.Errorf("%s task %s: %w", op, id, err)
}
