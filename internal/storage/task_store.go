package storage

import (
	"context"
	"time"

	"token-risk-lab/internal/domain"
)

// TaskStore persists AnalysisTasks and their FinalAnalyses.
// Every mutating method is a single atomic conditional update; status and
// progress monotonicity and the single-claim guarantee are enforced here,
// not by callers.
type TaskStore interface {
	// Create inserts a PENDING task. Returns ErrDuplicateKey if the id exists.
	Create(ctx context.Context, t *domain.AnalysisTask) error

	// Get returns a copy of the last committed task state. Returns ErrNotFound if unknown.
	Get(ctx context.Context, id string) (*domain.AnalysisTask, error)

	// Claim moves a PENDING task to RUNNING/INITIALIZING. Returns ErrConflict
	// if the task is not PENDING (already claimed or terminal).
	Claim(ctx context.Context, id string, now time.Time) (*domain.AnalysisTask, error)

	// Advance applies one stage update to a RUNNING task, appending its risks.
	// Returns ErrConflict if the task is not RUNNING or progress would decrease.
	Advance(ctx context.Context, id string, u domain.StageUpdate, now time.Time) error

	// Complete stores the FinalAnalysis and moves the task to COMPLETED in one
	// transaction. Returns ErrConflict if the task is not RUNNING.
	Complete(ctx context.Context, id string, result *domain.FinalAnalysis, now time.Time) error

	// Fail moves a non-terminal task to FAILED with progress 100, keeping the
	// failing step. Returns ErrConflict if the task is already terminal.
	Fail(ctx context.Context, id string, f domain.Failure, now time.Time) error

	// ListStale returns ids of RUNNING tasks not updated since before.
	ListStale(ctx context.Context, before time.Time) ([]string, error)

	// ListPending returns ids of PENDING tasks not updated since before.
	ListPending(ctx context.Context, before time.Time) ([]string, error)

	// History returns completed analyses for a subject, newest first.
	History(ctx context.Context, subject domain.Subject, limit int) ([]*domain.FinalAnalysis, error)

	// RecentSubjects returns distinct subjects with a task created since the given time.
	RecentSubjects(ctx context.Context, since time.Time, limit int) ([]domain.Subject, error)

	// DeleteFinishedBefore removes terminal tasks (and their results) last
	// updated before the cutoff. Returns the number of tasks removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenMetricsStore persists token metric samples.
type TokenMetricsStore interface {
	// InsertBulk appends samples.
	InsertBulk(ctx context.Context, samples []*domain.TokenMetrics) error

	// GetBySubject returns samples for a subject within [start, end], ordered by time ASC.
	GetBySubject(ctx context.Context, subject domain.Subject, start, end time.Time) ([]*domain.TokenMetrics, error)

	// DeleteBefore removes samples older than the cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) error
}
