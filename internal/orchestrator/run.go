package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/heuristic"
	"token-risk-lab/internal/storage"
)

// Run executes a task to completion. Only the caller that claims the task
// does any work; a task that is already RUNNING or terminal is a no-op.
// The returned error describes why the task FAILED; the failure has already
// been recorded.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	var task *domain.AnalysisTask
	err := o.persist(ctx, "claim", func(ctx context.Context) error {
		var err error
		task, err = o.store.Claim(ctx, taskID, o.now().UTC())
		return err
	})
	switch {
	case errors.Is(err, storage.ErrConflict):
		o.log.Debug().Str("task_id", taskID).Msg("task already claimed or finished, skipping")
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	case err != nil:
		return err
	}

	log := o.log.With().
		Str("task_id", task.ID).
		Str("address", task.Subject.Address).
		Int64("chain_id", task.Subject.ChainID).
		Logger()

	start := time.Now()
	o.metrics.TaskStarted()
	log.Info().Msg("task started")

	runCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	err = o.execute(runCtx, task, log, start)
	if err == nil {
		o.metrics.TaskFinished(strings.ToLower(string(domain.TaskCompleted)), time.Since(start))
		log.Info().Dur("elapsed", time.Since(start)).Msg("task completed")
		return nil
	}

	if errors.Is(err, storage.ErrConflict) {
		// Someone else (the watchdog) already finished this task.
		o.metrics.TaskFinished("aborted", time.Since(start))
		log.Warn().Err(err).Msg("task finished elsewhere, abandoning run")
		return nil
	}

	o.metrics.TaskFinished(strings.ToLower(string(domain.TaskFailed)), time.Since(start))
	o.fail(ctx, task.ID, err, log)
	return err
}

// execute runs the stages in the fixed reporting order. Every error it
// returns is a StageError naming the step that was running; panics included.
func (o *Orchestrator) execute(ctx context.Context, task *domain.AnalysisTask, log zerolog.Logger, start time.Time) (err error) {
	step := domain.StepInitializing
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msgf("stage panic: %v", r)
			err = &StageError{Step: step, Err: fmt.Errorf("panic: %v", r)}
			return
		}
		var se *StageError
		if err != nil && !errors.As(err, &se) {
			err = &StageError{Step: step, Err: err}
		}
	}()

	stage := func(next domain.AnalysisStep, risks []domain.Risk) error {
		step = next
		return o.advance(ctx, task.ID, domain.NewStageUpdate(next, risks), log)
	}

	// Collection
	if err := stage(domain.StepFetchingData, nil); err != nil {
		return err
	}
	t0 := time.Now()
	snap, err := o.collector.Collect(ctx, task.Subject.Address, task.Subject.ChainID)
	if err != nil {
		return &StageError{Step: domain.StepFetchingData, Err: err}
	}
	o.metrics.RecordStage(string(domain.StepFetchingData), time.Since(t0))
	if len(snap.FailedSources) > 0 {
		log.Warn().Strs("failed_sources", snap.FailedSources).Msg("collected with source defaults")
	}

	// Heuristic checks run together; their steps are reported one by one.
	step = heuristic.CheckSteps[0]
	if err := snap.Validate(); err != nil {
		return &StageError{Step: step, Err: err}
	}
	t0 = time.Now()
	checks := o.engine.Evaluate(snap)
	o.metrics.RecordStage("HEURISTIC_CHECKS", time.Since(t0))
	for _, s := range heuristic.CheckSteps {
		if err := stage(s, checks.ForStep(s)); err != nil {
			return err
		}
	}
	heur := o.engine.Summarize(checks.All())

	// Model
	if err := stage(domain.StepRunningMLDetection, nil); err != nil {
		return err
	}
	t0 = time.Now()
	ml, err := o.scorer.Predict(snap)
	if err != nil {
		return &StageError{Step: domain.StepRunningMLDetection, Err: err}
	}
	o.metrics.RecordStage(string(domain.StepRunningMLDetection), time.Since(t0))

	// Smart money
	if err := stage(domain.StepTrackingSmartMoney, nil); err != nil {
		return err
	}
	t0 = time.Now()
	sm := o.smartMoney.Analyze(snap)
	o.metrics.RecordStage(string(domain.StepTrackingSmartMoney), time.Since(t0))

	// Report
	if err := stage(domain.StepGeneratingReport, nil); err != nil {
		return err
	}
	final := o.aggregator.Aggregate(heur, ml, sm)
	final.TaskID = task.ID
	final.Subject = task.Subject
	final.AnalysisMs = time.Since(start).Milliseconds()

	if err := o.persist(ctx, "complete", func(ctx context.Context) error {
		return o.store.Complete(ctx, task.ID, final, o.now().UTC())
	}); err != nil {
		return err
	}

	log.Info().
		Float64("risk_score", final.RiskScore).
		Str("action", string(final.Recommendation.Action)).
		Int("risks", len(final.HeuristicRisks)).
		Msg("analysis stored")
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, id string, u domain.StageUpdate, log zerolog.Logger) error {
	err := o.persist(ctx, "advance", func(ctx context.Context) error {
		return o.store.Advance(ctx, id, u, o.now().UTC())
	})
	if err != nil {
		return err
	}
	log.Debug().Str("step", string(u.Step)).Int("progress", u.Progress).Int("risks", len(u.Risks)).Msg("step")
	return nil
}

// fail records the failure. It runs detached from ctx so a timed-out run is
// still marked FAILED.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error, log zerolog.Logger) {
	f := domain.Failure{Reason: cause.Error()}
	var se *StageError
	if errors.As(cause, &se) {
		f.Step = se.Step
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := o.persist(fctx, "fail", func(ctx context.Context) error {
		return o.store.Fail(ctx, id, f, o.now().UTC())
	})
	switch {
	case err == nil:
		log.Error().Err(cause).Str("step", string(f.Step)).Msg("task failed")
	case errors.Is(err, storage.ErrConflict):
		log.Warn().Err(cause).Msg("task already terminal, failure not recorded")
	default:
		log.Error().Err(err).AnErr("cause", cause).Msg("could not record task failure")
	}
}

// persist retries a task write with exponential backoff. Conflicts and
// missing tasks are final; exhausting retries yields a PersistenceError.
func (o *Orchestrator) persist(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryDelay
	b.MaxInterval = 20 * o.retryDelay
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			o.metrics.RecordPersistRetry()
		}
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isFinal(err) {
			return backoff.Permanent(err)
		}
		o.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("task write failed")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.persistRetries)), ctx))
	if err == nil {
		return nil
	}
	if isFinal(err) || ctx.Err() != nil {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// isFinal reports store errors that retrying cannot change.
func isFinal(err error) bool {
	return errors.Is(err, storage.ErrConflict) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrDuplicateKey) ||
		errors.Is(err, storage.ErrInvalidInput)
}
