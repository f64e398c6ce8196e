package storage

import (
	"context"
	"errors"
	"time"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
)

// InstrumentedTaskStore records latency and errors of every TaskStore call.
type InstrumentedTaskStore struct {
	next     TaskStore
	database string
	metrics  *observability.Metrics
}

// InstrumentTaskStore wraps next. database labels the metrics (e.g. "postgres").
func InstrumentTaskStore(next TaskStore, database string, m *observability.Metrics) *InstrumentedTaskStore {
	return &InstrumentedTaskStore{next: next, database: database, metrics: m}
}

func (s *InstrumentedTaskStore) observe(op string, start time.Time, err error) {
	// Conflicts are expected outcomes of conditional updates, not failures.
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordDBQuery(s.database, op, time.Since(start), err)
}

func (s *InstrumentedTaskStore) Create(ctx context.Context, t *domain.AnalysisTask) error {
	start := time.Now()
	err := s.next.Create(ctx, t)
	s.observe("task_create", start, err)
	return err
}

func (s *InstrumentedTaskStore) Get(ctx context.Context, id string) (*domain.AnalysisTask, error) {
	start := time.Now()
	t, err := s.next.Get(ctx, id)
	s.observe("task_get", start, err)
	return t, err
}

func (s *InstrumentedTaskStore) Claim(ctx context.Context, id string, now time.Time) (*domain.AnalysisTask, error) {
	start := time.Now()
	t, err := s.next.Claim(ctx, id, now)
	s.observe("task_claim", start, err)
	return t, err
}

func (s *InstrumentedTaskStore) Advance(ctx context.Context, id string, u domain.StageUpdate, now time.Time) error {
	start := time.Now()
	err := s.next.Advance(ctx, id, u, now)
	s.observe("task_advance", start, err)
	return err
}

func (s *InstrumentedTaskStore) Complete(ctx context.Context, id string, result *domain.FinalAnalysis, now time.Time) error {
	start := time.Now()
	err := s.next.Complete(ctx, id, result, now)
	s.observe("task_complete", start, err)
	return err
}

func (s *InstrumentedTaskStore) Fail(ctx context.Context, id string, f domain.Failure, now time.Time) error {
	start := time.Now()
	err := s.next.Fail(ctx, id, f, now)
	s.observe("task_fail", start, err)
	return err
}

func (s *InstrumentedTaskStore) ListStale(ctx context.Context, before time.Time) ([]string, error) {
	start := time.Now()
	ids, err := s.next.ListStale(ctx, before)
	s.observe("task_list_stale", start, err)
	return ids, err
}

func (s *InstrumentedTaskStore) ListPending(ctx context.Context, before time.Time) ([]string, error) {
	start := time.Now()
	ids, err := s.next.ListPending(ctx, before)
	s.observe("task_list_pending", start, err)
	return ids, err
}

func (s *InstrumentedTaskStore) History(ctx context.Context, subject domain.Subject, limit int) ([]*domain.FinalAnalysis, error) {
	start := time.Now()
	res, err := s.next.History(ctx, subject, limit)
	s.observe("task_history", start, err)
	return res, err
}

func (s *InstrumentedTaskStore) RecentSubjects(ctx context.Context, since time.Time, limit int) ([]domain.Subject, error) {
	start := time.Now()
	res, err := s.next.RecentSubjects(ctx, since, limit)
	s.observe("task_recent_subjects", start, err)
	return res, err
}

func (s *InstrumentedTaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	n, err := s.next.DeleteFinishedBefore(ctx, cutoff)
	s.observe("task_delete_finished", start, err)
	return n, err
}

var _ TaskStore = (*InstrumentedTaskStore)(nil)
