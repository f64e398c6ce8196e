// Package queue carries task ids from submitters to workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned once a queue has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when an in-memory queue is at capacity.
	ErrFull = errors.New("queue full")
)

// Queue is a FIFO of task ids. Dequeue blocks until an id is available or ctx ends.
type Queue interface {
	Enqueue(ctx context.Context, taskID string) error
	Dequeue(ctx context.Context) (string, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	ch        chan string
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryQueue creates a queue holding at most capacity ids.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ch: make(chan string, capacity), done: make(chan struct{})}
}

// Enqueue adds an id without blocking.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close wakes all blocked consumers. Queued ids are dropped.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
