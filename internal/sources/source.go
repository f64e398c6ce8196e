// Package sources defines the collaborator contract the DataCollector fans out
// to, plus the shared plumbing (registry, resilience guard, JSON over HTTP)
// used by the concrete source packages.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"token-risk-lab/internal/domain"
)

// Source is one external collaborator producing a partial snapshot.
type Source interface {
	// Name is a stable identifier used in logs, metrics and FailedSources.
	Name() string
	// SupportsChain reports whether Fetch can serve the chain. Unsupported
	// chains get Default() without an external call.
	SupportsChain(chainID int64) bool
	// Fetch retrieves the fragment for a token.
	Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error)
	// Default is the documented fragment substituted when Fetch fails.
	Default() domain.Fragment
}

var (
	// ErrNoData is returned when the upstream answered but had nothing for the token.
	ErrNoData = errors.New("no data for token")
	// ErrUnsupportedChain is returned by Fetch when called for a chain it does not serve.
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// SourceError records a single collaborator failure. It is recovered locally
// by the collector and never propagated to callers.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Registry holds the configured sources in registration order.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry creates a registry with the given sources.
func NewRegistry(srcs ...Source) *Registry {
	r := &Registry{}
	for _, s := range srcs {
		r.Register(s)
	}
	return r
}

// Register appends a source, replacing any previous one with the same name in place.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.sources {
		if existing.Name() == s.Name() {
			r.sources[i] = s
			return
		}
	}
	r.sources = append(r.sources, s)
}

// All returns the sources in registration order.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.sources...)
}

// Get returns the source with the given name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Split partitions sources into those that can serve chainID and those that cannot.
func (r *Registry) Split(chainID int64) (supported, unsupported []Source) {
	for _, s := range r.All() {
		if s.SupportsChain(chainID) {
			supported = append(supported, s)
		} else {
			unsupported = append(unsupported, s)
		}
	}
	return supported, unsupported
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
