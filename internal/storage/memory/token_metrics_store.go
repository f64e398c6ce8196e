package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/storage"
)

// TokenMetricsStore is an in-memory implementation of storage.TokenMetricsStore.
type TokenMetricsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TokenMetrics // keyed by (subject, sampled_at)
}

// NewTokenMetricsStore creates a new in-memory token metrics store.
func NewTokenMetricsStore() *TokenMetricsStore {
	return &TokenMetricsStore{
		data: make(map[string]*domain.TokenMetrics),
	}
}

func metricsKey(subject domain.Subject, at time.Time) string {
	return fmt.Sprintf("%s|%d", subject.Key(), at.UnixNano())
}

// InsertBulk appends samples. A sample for an existing (subject, time) replaces it.
func (s *TokenMetricsStore) InsertBulk(_ context.Context, samples []*domain.TokenMetrics) error {
	for _, m := range samples {
		if m == nil || m.Subject.Address == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range samples {
		sampleCopy := *m
		s.data[metricsKey(m.Subject, m.SampledAt)] = &sampleCopy
	}
	return nil
}

// GetBySubject returns samples within [start, end], ordered by time ASC.
func (s *TokenMetricsStore) GetBySubject(_ context.Context, subject domain.Subject, start, end time.Time) ([]*domain.TokenMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenMetrics
	for _, m := range s.data {
		if m.Subject != subject || m.SampledAt.Before(start) || m.SampledAt.After(end) {
			continue
		}
		sampleCopy := *m
		result = append(result, &sampleCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SampledAt.Before(result[j].SampledAt)
	})
	return result, nil
}

// DeleteBefore removes samples older than the cutoff.
func (s *TokenMetricsStore) DeleteBefore(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, m := range s.data {
		if m.SampledAt.Before(cutoff) {
			delete(s.data, k)
		}
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.TokenMetricsStore = (*TokenMetricsStore)(nil)
