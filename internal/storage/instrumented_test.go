package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/storage"
	"token-risk-lab/internal/storage/memory"
)

type brokenStore struct{ *memory.TaskStore }

func (brokenStore) ListStale(context.Context, time.Time) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestInstrumentedTaskStore(t *testing.T) {
	ctx := context.Background()
	m := observability.NewMetrics(prometheus.NewRegistry(), "test")
	store := storage.InstrumentTaskStore(brokenStore{memory.NewTaskStore()}, "memory", m)

	subject := domain.Subject{Address: "0x6982508145454ce325ddbe47a25d4ec3d2311933", ChainID: 1}
	require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("t1", subject, time.Now())))

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Claim(ctx, "t1", time.Now())
	require.NoError(t, err)
	_, err = store.Claim(ctx, "t1", time.Now())
	assert.ErrorIs(t, err, storage.ErrConflict)
	_, err = store.ListStale(ctx, time.Now())
	assert.Error(t, err)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "task_get")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "task_claim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "task_list_stale")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.DBQueryDuration))
}
