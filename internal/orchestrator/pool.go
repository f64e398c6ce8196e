package orchestrator

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/queue"
)

// Runner executes one task.
type Runner interface {
	Run(ctx context.Context, taskID string) error
}

// Pool runs a fixed number of workers over a queue. Each task runs start to
// finish on the worker that dequeued it.
type Pool struct {
	runner  Runner
	queue   queue.Queue
	workers int
	log     zerolog.Logger
	metrics *observability.Metrics

	wg sync.WaitGroup
}

// NewPool creates a pool with n workers (at least one).
func NewPool(runner Runner, q queue.Queue, n int, log zerolog.Logger, metrics *observability.Metrics) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{runner: runner, queue: q, workers: n, log: log, metrics: metrics}
}

// Start launches the workers. They stop when ctx is cancelled or the queue closes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		taskID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if n, err := p.queue.Len(ctx); err == nil {
			p.metrics.SetQueueDepth(int(n))
		}
		p.runOne(ctx, taskID, log)
	}
}

// runOne isolates a task so a panic never takes the worker down. A dequeued
// task runs to its own timeout even when the pool is shutting down.
func (p *Pool) runOne(ctx context.Context, taskID string, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", taskID).Str("stack", string(debug.Stack())).Msgf("task panic: %v", r)
		}
	}()
	if err := p.runner.Run(context.WithoutCancel(ctx), taskID); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("task did not complete")
	}
}
