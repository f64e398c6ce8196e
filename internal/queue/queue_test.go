package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	assert.ErrorIs(t, q.Enqueue(ctx, "d"), ErrFull)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryQueue_DequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_CloseWakesConsumers(t *testing.T) {
	q := NewMemoryQueue(1)
	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()

	q.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
	assert.ErrorIs(t, q.Enqueue(context.Background(), "x"), ErrClosed)
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "")
	ctx := context.Background()

	mock.ExpectLPush(DefaultKey, "task-1").SetVal(1)
	require.NoError(t, q.Enqueue(ctx, "task-1"))

	mock.ExpectBRPop(time.Second, DefaultKey).RedisNil()
	mock.ExpectBRPop(time.Second, DefaultKey).SetVal([]string{DefaultKey, "task-1"})
	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	mock.ExpectLLen(DefaultKey).SetVal(4)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(db, "jobs")
	ctx := context.Background()

	mock.ExpectLPush("jobs", "t").SetErr(errors.New("READONLY"))
	assert.Error(t, q.Enqueue(ctx, "t"))

	mock.ExpectBRPop(time.Second, "jobs").SetErr(errors.New("connection refused"))
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, redis.Nil))
}

func TestRedisQueue_CancelledContext(t *testing.T) {
	db, _ := redismock.NewClientMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisQueue(db, "").Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
