package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const taskColumns = `t.id, t.token_address, t.chain_id, t.status, t.current_step, t.progress_percent,
	t.intermediate_risks, t.failed_step, t.error, t.created_at, t.updated_at, a.result`

// TaskStore is a PostgreSQL implementation of storage.TaskStore.
// Uses two tables:
//   - analysis_tasks: one row per task, updated by conditional UPDATEs
//   - token_analyses: the FinalAnalysis of each completed task
type TaskStore struct {
	pool *Pool
}

// NewTaskStore creates a new PostgreSQL task store.
func NewTaskStore(pool *Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Create inserts a PENDING task. Returns ErrDuplicateKey if the id exists.
func (s *TaskStore) Create(ctx context.Context, t *domain.AnalysisTask) error {
	if t == nil || t.ID == "" || t.Status != domain.TaskPending {
		return storage.ErrInvalidInput
	}

	risks, err := marshalRisks(t.IntermediateRisks)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("analysis_tasks").
		Columns("id", "token_address", "chain_id", "status", "current_step", "progress_percent",
			"intermediate_risks", "created_at", "updated_at").
		Values(t.ID, t.Subject.Address, t.Subject.ChainID, string(t.Status), string(t.CurrentStep),
			t.ProgressPercent, risks, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return writeError("insert task", err)
	}
	return nil
}

// Get returns the last committed task state. Returns ErrNotFound if not exists.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.AnalysisTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM analysis_tasks t
		LEFT JOIN token_analyses a ON a.task_id = t.id
		WHERE t.id = $1
	`, id)

	task, err := scanTask(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// Claim moves a PENDING task to RUNNING with a single conditional UPDATE.
func (s *TaskStore) Claim(ctx context.Context, id string, now time.Time) (*domain.AnalysisTask, error) {
	query, args, err := psql.Update("analysis_tasks").
		Set("status", string(domain.TaskRunning)).
		Set("current_step", string(domain.StepInitializing)).
		Set("progress_percent", domain.StepInitializing.Progress()).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.TaskPending)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, missOrConflict(ctx, s.pool, id)
	}
	return s.Get(ctx, id)
}

// Advance appends risks and moves progress forward on a RUNNING task.
func (s *TaskStore) Advance(ctx context.Context, id string, u domain.StageUpdate, now time.Time) error {
	if !u.Step.Valid() {
		return storage.ErrInvalidInput
	}
	risks, err := marshalRisks(u.Risks)
	if err != nil {
		return err
	}

	query, args, err := psql.Update("analysis_tasks").
		Set("current_step", string(u.Step)).
		Set("progress_percent", u.Progress).
		Set("intermediate_risks", sq.Expr("intermediate_risks || ?::jsonb", risks)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.TaskRunning)}).
		Where(sq.LtOrEq{"progress_percent": u.Progress}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build advance: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, s.pool, id)
	}
	return nil
}

// Complete writes the FinalAnalysis and the COMPLETED status in one transaction.
func (s *TaskStore) Complete(ctx context.Context, id string, result *domain.FinalAnalysis, now time.Time) error {
	if result == nil {
		return storage.ErrInvalidInput
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query, args, err := psql.Update("analysis_tasks").
		Set("status", string(domain.TaskCompleted)).
		Set("current_step", string(domain.StepCompleted)).
		Set("progress_percent", 100).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.TaskRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, tx, id)
	}

	query, args, err = psql.Insert("token_analyses").
		Columns("task_id", "token_address", "chain_id", "risk_score", "action", "result", "created_at").
		Values(id, result.Subject.Address, result.Subject.ChainID, result.RiskScore,
			string(result.Recommendation.Action), payload, result.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build result insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		err = writeError("insert result", err)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return storage.ErrConflict
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Fail marks a non-terminal task FAILED, keeping the failing step.
func (s *TaskStore) Fail(ctx context.Context, id string, f domain.Failure, now time.Time) error {
	query, args, err := psql.Update("analysis_tasks").
		Set("status", string(domain.TaskFailed)).
		Set("current_step", string(domain.StepFailed)).
		Set("progress_percent", 100).
		Set("failed_step", string(f.Step)).
		Set("error", f.Reason).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": []string{string(domain.TaskPending), string(domain.TaskRunning)}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build fail: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, s.pool, id)
	}
	return nil
}

// ListStale returns ids of RUNNING tasks not updated since before.
func (s *TaskStore) ListStale(ctx context.Context, before time.Time) ([]string, error) {
	return s.idsWithStatus(ctx, domain.TaskRunning, before)
}

// ListPending returns ids of PENDING tasks not updated since before.
func (s *TaskStore) ListPending(ctx context.Context, before time.Time) ([]string, error) {
	return s.idsWithStatus(ctx, domain.TaskPending, before)
}

func (s *TaskStore) idsWithStatus(ctx context.Context, status domain.TaskStatus, before time.Time) ([]string, error) {
	query, args, err := psql.Select("id").
		From("analysis_tasks").
		Where(sq.Eq{"status": string(status)}).
		Where(sq.Lt{"updated_at": before}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", status, err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s tasks: %w", status, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// History returns completed analyses for a subject, newest first.
func (s *TaskStore) History(ctx context.Context, subject domain.Subject, limit int) ([]*domain.FinalAnalysis, error) {
	b := psql.Select("result").
		From("token_analyses").
		Where(sq.Eq{"chain_id": subject.ChainID, "token_address": subject.Address}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}

	result := make([]*domain.FinalAnalysis, 0, len(payloads))
	for _, p := range payloads {
		var fa domain.FinalAnalysis
		if err := json.Unmarshal(p, &fa); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		result = append(result, &fa)
	}
	return result, nil
}

// RecentSubjects returns distinct subjects with a task created since the given time.
func (s *TaskStore) RecentSubjects(ctx context.Context, since time.Time, limit int) ([]domain.Subject, error) {
	b := psql.Select("token_address", "chain_id").
		From("analysis_tasks").
		Where(sq.GtOrEq{"created_at": since}).
		GroupBy("token_address", "chain_id").
		OrderBy("MAX(created_at) DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent subjects: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subject, error) {
		var subj domain.Subject
		err := row.Scan(&subj.Address, &subj.ChainID)
		return subj, err
	})
}

// DeleteFinishedBefore removes terminal tasks last updated before the cutoff.
// token_analyses rows go with them via ON DELETE CASCADE.
func (s *TaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("analysis_tasks").
		Where(sq.Eq{"status": []string{string(domain.TaskCompleted), string(domain.TaskFailed)}}).
		Where(sq.Lt{"updated_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalRisks(risks []domain.Risk) ([]byte, error) {
	if risks == nil {
		risks = []domain.Risk{}
	}
	b, err := json.Marshal(risks)
	if err != nil {
		return nil, fmt.Errorf("marshal risks: %w", err)
	}
	return b, nil
}

// scanTask scans a single row into domain.AnalysisTask.
func scanTask(row pgx.Row) (*domain.AnalysisTask, error) {
	var (
		t          domain.AnalysisTask
		status     string
		step       string
		failedStep string
		risks      []byte
		result     []byte
	)

	err := row.Scan(
		&t.ID,
		&t.Subject.Address,
		&t.Subject.ChainID,
		&status,
		&step,
		&t.ProgressPercent,
		&risks,
		&failedStep,
		&t.Error,
		&t.CreatedAt,
		&t.UpdatedAt,
		&result,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.CurrentStep = domain.AnalysisStep(step)
	t.FailedStep = domain.AnalysisStep(failedStep)

	t.IntermediateRisks = []domain.Risk{}
	if err := json.Unmarshal(risks, &t.IntermediateRisks); err != nil {
		return nil, fmt.Errorf("decode risks: %w", err)
	}
	if result != nil {
		var fa domain.FinalAnalysis
		if err := json.Unmarshal(result, &fa); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		t.FinalResult = &fa
	}
	return &t, nil
}

// Verify interface compliance at compile time.
var _ storage.TaskStore = (*TaskStore)(nil)
