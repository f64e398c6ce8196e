package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

// TaskStore is an in-memory implementation of storage.TaskStore.
type TaskStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AnalysisTask // keyed by task id
}

// NewTaskStore creates a new in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		data: make(map[string]*domain.AnalysisTask),
	}
}

// Create inserts a PENDING task. Returns ErrDuplicateKey if the id exists.
func (s *TaskStore) Create(_ context.Context, t *domain.AnalysisTask) error {
	if t == nil || t.ID == "" || t.Status != domain.TaskPending {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of the task. Returns ErrNotFound if not exists.
func (s *TaskStore) Get(_ context.Context, id string) (*domain.AnalysisTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// Claim moves a PENDING task to RUNNING.
func (s *TaskStore) Claim(_ context.Context, id string, now time.Time) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if t.Status != domain.TaskPending {
		return nil, storage.ErrConflict
	}

	t.Status = domain.TaskRunning
	t.CurrentStep = domain.StepInitializing
	t.ProgressPercent = domain.StepInitializing.Progress()
	t.UpdatedAt = now
	return t.Clone(), nil
}

// Advance applies one stage update to a RUNNING task.
func (s *TaskStore) Advance(_ context.Context, id string, u domain.StageUpdate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if !t.Apply(u, now) {
		return storage.ErrConflict
	}
	return nil
}

// Complete stores the result and marks the task COMPLETED.
func (s *TaskStore) Complete(_ context.Context, id string, result *domain.FinalAnalysis, now time.Time) error {
	if result == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if t.Status != domain.TaskRunning {
		return storage.ErrConflict
	}

	t.Status = domain.TaskCompleted
	t.CurrentStep = domain.StepCompleted
	t.ProgressPercent = 100
	t.FinalResult = result.Clone()
	t.UpdatedAt = now
	return nil
}

// Fail marks a non-terminal task FAILED.
func (s *TaskStore) Fail(_ context.Context, id string, f domain.Failure, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return storage.ErrConflict
	}

	t.Status = domain.TaskFailed
	t.CurrentStep = domain.StepFailed
	t.ProgressPercent = 100
	t.FailedStep = f.Step
	t.Error = f.Reason
	t.UpdatedAt = now
	return nil
}

// ListStale returns RUNNING tasks not updated since before.
func (s *TaskStore) ListStale(_ context.Context, before time.Time) ([]string, error) {
	return s.idsWithStatus(domain.TaskRunning, before), nil
}

// ListPending returns PENDING tasks not updated since before.
func (s *TaskStore) ListPending(_ context.Context, before time.Time) ([]string, error) {
	return s.idsWithStatus(domain.TaskPending, before), nil
}

func (s *TaskStore) idsWithStatus(status domain.TaskStatus, before time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, t := range s.data {
		if t.Status == status && t.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// History returns completed analyses for a subject, newest first.
func (s *TaskStore) History(_ context.Context, subject domain.Subject, limit int) ([]*domain.FinalAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FinalAnalysis
	for _, t := range s.data {
		if t.Subject == subject && t.FinalResult != nil {
			result = append(result, t.FinalResult.Clone())
		}
	}

	// Sort by created_at DESC
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// RecentSubjects returns distinct subjects with a task created since the given time.
func (s *TaskStore) RecentSubjects(_ context.Context, since time.Time, limit int) ([]domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[domain.Subject]time.Time)
	for _, t := range s.data {
		if t.CreatedAt.Before(since) {
			continue
		}
		if cur, ok := latest[t.Subject]; !ok || t.CreatedAt.After(cur) {
			latest[t.Subject] = t.CreatedAt
		}
	}

	result := make([]domain.Subject, 0, len(latest))
	for subj := range latest {
		result = append(result, subj)
	}
	sort.Slice(result, func(i, j int) bool {
		return latest[result[i]].After(latest[result[j]])
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteFinishedBefore removes terminal tasks last updated before the cutoff.
func (s *TaskStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.data {
		if t.Status.IsTerminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

// Verify interface compliance at compile time.
var _ storage.TaskStore = (*TaskStore)(nil)
