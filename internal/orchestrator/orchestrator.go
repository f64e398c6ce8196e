// Package orchestrator drives analysis tasks through the state machine:
// submit creates a PENDING task, run executes every stage exactly once and
// ends in COMPLETED or FAILED.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"token-risk-lab/internal/aggregate"
	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/heuristic"
	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/queue"
	"token-risk-lab/internal/storage"
)

// Collector produces the snapshot for a subject.
type Collector interface {
	Collect(ctx context.Context, address string, chainID int64) (*domain.TokenSnapshot, error)
}

// Scorer produces the model prediction.
type Scorer interface {
	Predict(s *domain.TokenSnapshot) (*domain.MLPrediction, error)
}

// SmartMoney produces the smart-money analysis.
type SmartMoney interface {
	Analyze(s *domain.TokenSnapshot) *domain.SmartMoneyAnalysis
}

// Options for creating an Orchestrator.
type Options struct {
	// Required
	Store      storage.TaskStore
	Collector  Collector
	Engine     *heuristic.Engine
	Scorer     Scorer
	SmartMoney SmartMoney
	Aggregator *aggregate.Aggregator

	// Queue receives submitted task ids. When nil, Submit only creates the
	// task and the caller runs it.
	Queue queue.Queue

	TaskTimeout    time.Duration // per-run deadline, default 2m
	PersistRetries int           // retries per task write, default 3
	RetryDelay     time.Duration // initial backoff, default 100ms

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Orchestrator coordinates task execution. It holds no per-task state; the
// store is the only shared mutable state.
type Orchestrator struct {
	store      storage.TaskStore
	queue      queue.Queue
	collector  Collector
	engine     *heuristic.Engine
	scorer     Scorer
	smartMoney SmartMoney
	aggregator *aggregate.Aggregator

	taskTimeout    time.Duration
	persistRetries int
	retryDelay     time.Duration

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.PersistRetries < 0 {
		opts.PersistRetries = 0
	} else if opts.PersistRetries == 0 {
		opts.PersistRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Orchestrator{
		store:          opts.Store,
		queue:          opts.Queue,
		collector:      opts.Collector,
		engine:         opts.Engine,
		scorer:         opts.Scorer,
		smartMoney:     opts.SmartMoney,
		aggregator:     opts.Aggregator,
		taskTimeout:    opts.TaskTimeout,
		persistRetries: opts.PersistRetries,
		retryDelay:     opts.RetryDelay,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		now:            time.Now,
	}
}

// Submit validates the subject, creates a PENDING task and enqueues it.
func (o *Orchestrator) Submit(ctx context.Context, address string, chainID int64) (*domain.AnalysisTask, error) {
	subject, err := domain.NormalizeSubject(address, chainID)
	if err != nil {
		return nil, err
	}

	task := domain.NewAnalysisTask(uuid.NewString(), subject, o.now().UTC())
	if err := o.persist(ctx, "create", func(ctx context.Context) error {
		return o.store.Create(ctx, task)
	}); err != nil {
		return nil, err
	}
	o.metrics.RecordSubmitted()

	if o.queue != nil {
		if err := o.queue.Enqueue(ctx, task.ID); err != nil {
			// Never leave an orphaned PENDING task behind.
			failErr := o.store.Fail(context.WithoutCancel(ctx), task.ID,
				domain.Failure{Step: domain.StepQueued, Reason: "enqueue failed: " + err.Error()}, o.now().UTC())
			if failErr != nil {
				o.log.Error().Err(failErr).Str("task_id", task.ID).Msg("failed to mark unqueued task")
			}
			return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
		}
	}

	o.log.Info().
		Str("task_id", task.ID).
		Str("address", subject.Address).
		Int64("chain_id", subject.ChainID).
		Msg("task submitted")

	return task, nil
}

// Status returns the last committed state of a task.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*domain.AnalysisTask, error) {
	task, err := o.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// Result returns the FinalAnalysis of a COMPLETED task, ErrNotReady otherwise.
func (o *Orchestrator) Result(ctx context.Context, taskID string) (*domain.FinalAnalysis, error) {
	task, err := o.Status(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskCompleted || task.FinalResult == nil {
		return nil, &NotReadyError{TaskID: taskID, Status: task.Status}
	}
	return task.FinalResult, nil
}

// History lists past analyses of a token, newest first.
func (o *Orchestrator) History(ctx context.Context, address string, chainID int64, limit int) ([]*domain.FinalAnalysis, error) {
	subject, err := domain.NormalizeSubject(address, chainID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	results, err := o.store.History(ctx, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", subject, err)
	}
	return results, nil
}
