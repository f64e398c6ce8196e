package smartmoney

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
)

var evmWallets = []string{
	"0x742d35Cc6634C0532925a3b844Bc9e7595f8b399",
	"0x1111111111111111111111111111111111111111",
	"0x2222222222222222222222222222222222222222",
	"0x3333333333333333333333333333333333333333",
	"0x4444444444444444444444444444444444444444",
	"0x5555555555555555555555555555555555555555",
}

func onCurveKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}

func offCurveKey(t *testing.T) string {
	t.Helper()
	for i := 0; i < 256; i++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("pda-%d", i)))
		if !isOnCurve(h[:]) {
			return base58.Encode(h[:])
		}
	}
	t.Fatal("no off-curve point found")
	return ""
}

func TestNewAnalyzer_FiltersSeed(t *testing.T) {
	wallet := onCurveKey(t)
	pda := offCurveKey(t)

	a := NewAnalyzer([]string{evmWallets[0], wallet, pda, "0x1234", "not base58 0OIl", ""}, zerolog.Nop())
	assert.Equal(t, 2, a.Len())
}

func TestAnalyze_MatchesCaseInsensitiveEVM(t *testing.T) {
	a := NewAnalyzer(evmWallets[:1], zerolog.Nop())
	holder := "0x742D35CC6634C0532925A3B844BC9E7595F8B399"

	res := a.Analyze(&domain.TokenSnapshot{
		HolderAddresses:      []string{holder, "0x9999999999999999999999999999999999999999", holder},
		Top10HoldersPercent:  40,
		LiquidityUSD:         150000,
		VolumeLiquidityRatio: 0.8,
	})

	assert.Equal(t, []string{holder}, res.HoldingWallets)
	assert.InDelta(t, 0.1+0.3+0.3, res.Score, 1e-9)
	assert.Equal(t, domain.PhaseAccumulation, res.Phase)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestAnalyze_SolanaKeysCaseSensitive(t *testing.T) {
	wallet := onCurveKey(t)
	a := NewAnalyzer([]string{wallet}, zerolog.Nop())

	hit := a.Analyze(&domain.TokenSnapshot{HolderAddresses: []string{wallet}, Top10HoldersPercent: 100})
	assert.Equal(t, []string{wallet}, hit.HoldingWallets)
}

func TestAnalyze_Phases(t *testing.T) {
	a := NewAnalyzer(evmWallets, zerolog.Nop())

	tests := []struct {
		name    string
		holders []string
		ratio   float64
		want    domain.MarketPhase
	}{
		{name: "accumulation", holders: evmWallets[:1], ratio: 0.6, want: domain.PhaseAccumulation},
		{name: "high volume without smart money", holders: nil, ratio: 0.6, want: domain.PhaseNone},
		{name: "distribution", holders: nil, ratio: 0.05, want: domain.PhaseDistribution},
		{name: "low volume with smart money", holders: evmWallets[:1], ratio: 0.05, want: domain.PhaseNone},
		{name: "neutral", holders: nil, ratio: 0.3, want: domain.PhaseNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(&domain.TokenSnapshot{HolderAddresses: tt.holders, VolumeLiquidityRatio: tt.ratio})
			assert.Equal(t, tt.want, res.Phase)
		})
	}
}

func TestAnalyze_NoHolderList(t *testing.T) {
	res := NewAnalyzer(evmWallets, zerolog.Nop()).Analyze(&domain.TokenSnapshot{Top10HoldersPercent: 100})
	assert.Equal(t, 0.3, res.Confidence)
	assert.Equal(t, 0.0, res.Score)
	assert.NotNil(t, res.HoldingWallets)
	assert.Empty(t, res.HoldingWallets)
}

func TestAnalyze_WalletScoreCapped(t *testing.T) {
	res := NewAnalyzer(evmWallets, zerolog.Nop()).Analyze(&domain.TokenSnapshot{
		HolderAddresses:     evmWallets,
		Top10HoldersPercent: 100,
	})
	assert.Len(t, res.HoldingWallets, 6)
	assert.InDelta(t, 0.4, res.Score, 1e-9)
}

func TestAnalyze_Monotonic(t *testing.T) {
	a := NewAnalyzer(evmWallets, zerolog.Nop())
	base := domain.TokenSnapshot{Top10HoldersPercent: 75, LiquidityUSD: 20000}

	t.Run("smart holders", func(t *testing.T) {
		prev := -1.0
		for n := 0; n <= len(evmWallets); n++ {
			s := base
			s.HolderAddresses = evmWallets[:n]
			score := a.Analyze(&s).Score
			assert.GreaterOrEqual(t, score, prev, "holders=%d", n)
			prev = score
		}
	})

	t.Run("concentration decreasing", func(t *testing.T) {
		prev := -1.0
		for pct := 100.0; pct >= 0; pct -= 5 {
			s := base
			s.Top10HoldersPercent = pct
			score := a.Analyze(&s).Score
			assert.GreaterOrEqual(t, score, prev, "top10=%v", pct)
			prev = score
		}
	})

	t.Run("liquidity increasing", func(t *testing.T) {
		prev := -1.0
		for liq := 0.0; liq <= 300000; liq += 10000 {
			s := base
			s.LiquidityUSD = liq
			score := a.Analyze(&s).Score
			assert.GreaterOrEqual(t, score, prev, "liquidity=%v", liq)
			assert.LessOrEqual(t, score, 1.0)
			prev = score
		}
	})
}
