package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
)

type stubSource struct {
	name   string
	chains map[int64]bool
	calls  atomic.Int32
	err    error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) SupportsChain(id int64) bool { return s.chains[id] }
func (s *stubSource) Default() domain.Fragment { return domain.DefaultMarketData() }
func (s *stubSource) Fetch(context.Context, string, int64) (domain.Fragment, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.MarketData{LiquidityUSD: 1}, nil
}

func TestRegistry(t *testing.T) {
	evm := &stubSource{name: "evm", chains: map[int64]bool{1: true}}
	sol := &stubSource{name: "sol", chains: map[int64]bool{501: true}}
	r := NewRegistry(evm, sol)

	supported, unsupported := r.Split(1)
	require.Len(t, supported, 1)
	require.Len(t, unsupported, 1)
	assert.Equal(t, "evm", supported[0].Name())
	assert.Equal(t, "sol", unsupported[0].Name())

	replacement := &stubSource{name: "evm"}
	r.Register(replacement)
	assert.Equal(t, 2, r.Len())
	got, ok := r.Get("evm")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestSourceError(t *testing.T) {
	err := error(&SourceError{Source: "dex", Err: ErrNoData})
	assert.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "dex")

	var se *SourceError
	assert.True(t, errors.As(err, &se))
}

func TestGuard_BreakerOpensAfterFailures(t *testing.T) {
	src := &stubSource{name: "flaky", err: errors.New("upstream down")}
	g := NewGuard(src, GuardOptions{MaxFailures: 3, OpenTimeout: time.Minute, Logger: zerolog.Nop()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Fetch(ctx, "addr", 1)
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Fetch(ctx, "addr", 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestGuard_NoDataDoesNotTrip(t *testing.T) {
	src := &stubSource{name: "empty", err: ErrNoData}
	g := NewGuard(src, GuardOptions{MaxFailures: 1, Logger: zerolog.Nop()})

	for i := 0; i < 3; i++ {
		_, err := g.Fetch(context.Background(), "addr", 1)
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuard_RateLimitHonoursContext(t *testing.T) {
	src := &stubSource{name: "slow"}
	g := NewGuard(src, GuardOptions{RequestsPerSecond: 0.001})

	_, err := g.Fetch(context.Background(), "addr", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Fetch(ctx, "addr", 1)
	assert.Error(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestGuard_Passthrough(t *testing.T) {
	src := &stubSource{name: "plain", chains: map[int64]bool{56: true}}
	g := NewGuard(src, GuardOptions{})

	assert.Equal(t, "plain", g.Name())
	assert.True(t, g.SupportsChain(56))
	assert.Equal(t, "disabled", g.State())

	frag, err := g.Fetch(context.Background(), "addr", 56)
	require.NoError(t, err)
	assert.IsType(t, &domain.MarketData{}, frag)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			w.Write([]byte(`{"value": 42}`))
		case "/bad":
			w.Write([]byte(`{"value": `))
		default:
			http.Error(w, "nope", http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	client := server.Client()
	ctx := context.Background()

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, GetJSON(ctx, client, server.URL+"/ok", map[string]string{"X-API-Key": "secret"}, &out))
	assert.Equal(t, 42, out.Value)

	assert.Error(t, GetJSON(ctx, client, server.URL+"/bad", nil, &out))

	err := GetJSON(ctx, client, server.URL+"/limited", nil, &out)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
}
