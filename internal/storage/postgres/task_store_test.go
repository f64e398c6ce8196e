package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

var pgSubject = domain.Subject{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", ChainID: 1}

func TestTaskStore_Integration(t *testing.T) {
	pool := newTestPool(t)

	store := NewTaskStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("get-1", pgSubject, now)))
		assert.ErrorIs(t, store.Create(ctx, domain.NewAnalysisTask("get-1", pgSubject, now)), storage.ErrDuplicateKey)

		got, err := store.Get(ctx, "get-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskPending, got.Status)
		assert.Equal(t, pgSubject, got.Subject)
		assert.Empty(t, got.IntermediateRisks)
		assert.Nil(t, got.FinalResult)

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("single claim under concurrency", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("claim-1", pgSubject, now)))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Claim(ctx, "claim-1", now); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("advance appends and rejects regressions", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("adv-1", pgSubject, now)))
		_, err := store.Claim(ctx, "adv-1", now)
		require.NoError(t, err)

		r1 := domain.Risk{Type: domain.RiskHighSellTax, Score: 0.6, Reason: "High sell tax: 30%", Severity: domain.SeverityHigh}
		r2 := domain.Risk{Type: domain.RiskLowLiquidity, Score: 0.7, Reason: "Low liquidity: $8,000", Severity: domain.SeverityHigh}
		require.NoError(t, store.Advance(ctx, "adv-1", domain.NewStageUpdate(domain.StepCheckingHoneypot, []domain.Risk{r1}), now))
		require.NoError(t, store.Advance(ctx, "adv-1", domain.NewStageUpdate(domain.StepAnalyzingLiquidity, []domain.Risk{r2}), now))

		err = store.Advance(ctx, "adv-1", domain.NewStageUpdate(domain.StepFetchingData, nil), now)
		assert.ErrorIs(t, err, storage.ErrConflict)

		got, err := store.Get(ctx, "adv-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StepAnalyzingLiquidity, got.CurrentStep)
		assert.Equal(t, 30, got.ProgressPercent)
		assert.Equal(t, []domain.Risk{r1, r2}, got.IntermediateRisks)
	})

	t.Run("complete writes result once", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("done-1", pgSubject, now)))
		_, err := store.Claim(ctx, "done-1", now)
		require.NoError(t, err)

		result := &domain.FinalAnalysis{
			TaskID:         "done-1",
			Subject:        pgSubject,
			RiskScore:      0.42,
			Recommendation: domain.Recommendation{Action: domain.ActionCaution, Reasons: []string{"Mixed signals require careful analysis"}},
			CreatedAt:      now,
		}
		require.NoError(t, store.Complete(ctx, "done-1", result, now))
		assert.ErrorIs(t, store.Complete(ctx, "done-1", result, now), storage.ErrConflict)
		assert.ErrorIs(t, store.Fail(ctx, "done-1", domain.Failure{Step: domain.StepGeneratingReport}, now), storage.ErrConflict)

		got, err := store.Get(ctx, "done-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskCompleted, got.Status)
		require.NotNil(t, got.FinalResult)
		assert.Equal(t, 0.42, got.FinalResult.RiskScore)

		history, err := store.History(ctx, pgSubject, 5)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.Equal(t, "done-1", history[0].TaskID)
	})

	t.Run("fail keeps failing step", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("fail-1", pgSubject, now)))
		_, err := store.Claim(ctx, "fail-1", now)
		require.NoError(t, err)
		require.NoError(t, store.Fail(ctx, "fail-1", domain.Failure{Step: domain.StepRunningMLDetection, Reason: "malformed snapshot"}, now))

		got, err := store.Get(ctx, "fail-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskFailed, got.Status)
		assert.Equal(t, domain.StepFailed, got.CurrentStep)
		assert.Equal(t, 100, got.ProgressPercent)
		assert.Equal(t, domain.StepRunningMLDetection, got.FailedStep)
		assert.Nil(t, got.FinalResult)
	})

	t.Run("stale, recent and cleanup", func(t *testing.T) {
		old := now.Add(-2 * time.Hour)
		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("stale-1", pgSubject, old)))
		_, err := store.Claim(ctx, "stale-1", old)
		require.NoError(t, err)

		stale, err := store.ListStale(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Contains(t, stale, "stale-1")

		require.NoError(t, store.Create(ctx, domain.NewAnalysisTask("pending-1", pgSubject, old)))
		pending, err := store.ListPending(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Contains(t, pending, "pending-1")
		assert.NotContains(t, pending, "stale-1")
		stale, err = store.ListStale(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, stale, "pending-1")

		subjects, err := store.RecentSubjects(ctx, now.Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []domain.Subject{pgSubject}, subjects)

		n, err := store.DeleteFinishedBefore(ctx, now.Add(time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(2))

		_, err = store.Get(ctx, "done-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.Get(ctx, "stale-1")
		assert.NoError(t, err, "running tasks survive cleanup")
	})
}
