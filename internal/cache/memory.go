package cache

import (
	"context"
	"sync"
	"time"

	"token-risk-lab/internal/domain"
)

type memoryEntry struct {
	snap    *domain.TokenSnapshot
	expires time.Time
}

// MemoryBackend is an in-process TTL map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Get(_ context.Context, key string) (*domain.TokenSnapshot, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !b.now().Before(e.expires) {
		b.mu.Lock()
		// Only drop the entry we saw; a concurrent Set may have replaced it.
		if cur, ok := b.entries[key]; ok && cur.snap == e.snap {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	return e.snap, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, snap *domain.TokenSnapshot, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = memoryEntry{snap: snap.Clone(), expires: b.now().Add(ttl)}
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// Sweep drops all expired entries and returns how many were removed.
func (b *MemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	n := 0
	for k, e := range b.entries {
		if !now.Before(e.expires) {
			delete(b.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
