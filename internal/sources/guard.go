package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"token-risk-lab/internal/domain"
)

// GuardOptions configures a Guard.
type GuardOptions struct {
	// RequestsPerSecond limits outgoing calls; <= 0 disables limiting.
	RequestsPerSecond float64
	// MaxFailures consecutive failures open the breaker; 0 disables it.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	Logger      zerolog.Logger
}

// Guard wraps a Source with a rate limiter and a circuit breaker.
// It forwards SupportsChain and Default unchanged.
type Guard struct {
	Source
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard wraps src.
func NewGuard(src Source, opts GuardOptions) *Guard {
	g := &Guard{Source: src}

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if opts.MaxFailures > 0 {
		timeout := opts.OpenTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		log := opts.Logger
		maxFailures := opts.MaxFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    src.Name(),
			Timeout: timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// The caller giving up is not the upstream's fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoData)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("source", name).Str("from", from.String()).Str("to", to.String()).
					Msg("source breaker state changed")
			},
		})
	}

	return g
}

// Fetch waits for a rate-limit token, then calls the wrapped source through the breaker.
func (g *Guard) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if g.breaker == nil {
		return g.Source.Fetch(ctx, address, chainID)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.Source.Fetch(ctx, address, chainID)
	})
	if err != nil {
		return nil, err
	}
	frag, ok := res.(domain.Fragment)
	if !ok || frag == nil {
		return nil, ErrNoData
	}
	return frag, nil
}

// State returns the breaker state, or "disabled".
func (g *Guard) State() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}
