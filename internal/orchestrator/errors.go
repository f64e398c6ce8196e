package orchestrator

import (
	"errors"
	"fmt"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = storage.ErrNotFound
	// ErrNotReady is returned by Result while a task is not COMPLETED.
	ErrNotReady = errors.New("analysis not ready")
)

// StageError is a failure of one pipeline stage. The task is marked FAILED
// with Step retained.
type StageError struct {
	Step domain.AnalysisStep
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PersistenceError is a task-state write that still failed after retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotReadyError carries the status observed when a result was requested early.
type NotReadyError struct {
	TaskID string
	Status domain.TaskStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("task %s is %s", e.TaskID, e.Status)
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }
