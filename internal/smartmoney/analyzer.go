// Package smartmoney scores how attractive a token looks to known profitable
// wallets and infers the market phase from holder and volume signals.
package smartmoney

import (
	"math"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
)

const (
	perWalletScore = 0.1
	maxWalletScore = 0.4

	lowConcentration  = 50
	midConcentration  = 70
	highLiquidityUSD  = 100000
	midLiquidityUSD   = 50000
	accumulationRatio = 0.5
	distributionRatio = 0.1

	confidenceWithHolders    = 0.8
	confidenceWithoutHolders = 0.3
)

// Analyzer holds an immutable set of known smart wallets.
type Analyzer struct {
	wallets map[string]struct{}
}

// NewAnalyzer builds an analyzer from a wallet seed. Entries that are neither
// EVM addresses nor on-curve Solana keys are dropped: a program-derived
// address cannot sign trades, so it is never a trader wallet.
func NewAnalyzer(wallets []string, log zerolog.Logger) *Analyzer {
	a := &Analyzer{wallets: make(map[string]struct{}, len(wallets))}
	for _, w := range wallets {
		key, ok := walletKey(strings.TrimSpace(w))
		if !ok {
			log.Warn().Str("wallet", w).Msg("ignoring invalid smart wallet")
			continue
		}
		a.wallets[key] = struct{}{}
	}
	return a
}

// Len returns the number of tracked wallets.
func (a *Analyzer) Len() int { return len(a.wallets) }

// Analyze scores the snapshot. It is pure and safe for concurrent use.
func (a *Analyzer) Analyze(s *domain.TokenSnapshot) *domain.SmartMoneyAnalysis {
	holding := a.matchHolders(s.HolderAddresses)

	score := math.Min(float64(len(holding))*perWalletScore, maxWalletScore)

	switch {
	case s.Top10HoldersPercent < lowConcentration:
		score += 0.3
	case s.Top10HoldersPercent < midConcentration:
		score += 0.15
	}

	switch {
	case s.LiquidityUSD > highLiquidityUSD:
		score += 0.3
	case s.LiquidityUSD > midLiquidityUSD:
		score += 0.15
	}

	phase := domain.PhaseNone
	switch {
	case s.VolumeLiquidityRatio > accumulationRatio && len(holding) > 0:
		phase = domain.PhaseAccumulation
	case s.VolumeLiquidityRatio < distributionRatio && len(holding) == 0:
		phase = domain.PhaseDistribution
	}

	confidence := confidenceWithoutHolders
	if len(s.HolderAddresses) > 0 {
		confidence = confidenceWithHolders
	}

	return &domain.SmartMoneyAnalysis{
		Score:          math.Max(0, math.Min(1, score)),
		HoldingWallets: holding,
		Phase:          phase,
		Confidence:     confidence,
	}
}

func (a *Analyzer) matchHolders(holders []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, h := range holders {
		key := matchKey(h)
		if _, ok := a.wallets[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// matchKey folds EVM hex addresses to lower case; base58 keys are case-sensitive.
func matchKey(addr string) string {
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}

func walletKey(w string) (string, bool) {
	if strings.HasPrefix(w, "0x") || strings.HasPrefix(w, "0X") {
		if len(w) != 42 {
			return "", false
		}
		for _, c := range w[2:] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return "", false
			}
		}
		return strings.ToLower(w), true
	}
	raw, err := base58.Decode(w)
	if err != nil || !isOnCurve(raw) {
		return "", false
	}
	return w, true
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
