package riskmodel

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
)

const (
	fallbackConfidence = 0.7
	maxTopFactors      = 5

	lowLiquidityUSD     = 10000
	highConcentration   = 70
	newContractHours    = 7 * 24
	lowVolumeLiquidity  = 0.1
	fallbackLowLiqScore = 0.3
)

// Scorer implements predict(snapshot). It is immutable after construction and
// safe for concurrent use.
type Scorer struct {
	model *Model
	log   zerolog.Logger
}

// NewScorer creates a scorer. A nil model selects the fallback formula.
func NewScorer(model *Model, log zerolog.Logger) *Scorer {
	return &Scorer{model: model, log: log}
}

// LoadScorer loads the model at path. An empty path or a load failure selects
// the fallback formula; startup never fails because of the model.
func LoadScorer(path string, log zerolog.Logger) *Scorer {
	if path == "" {
		log.Info().Msg("no risk model configured, using fallback formula")
		return NewScorer(nil, log)
	}
	m, err := LoadModel(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("risk model unavailable, using fallback formula")
		return NewScorer(nil, log)
	}
	log.Info().Str("path", path).Int("features", len(m.FeatureNames)).Msg("risk model loaded")
	return NewScorer(m, log)
}

// ModelAvailable reports whether a trained model is loaded.
func (s *Scorer) ModelAvailable() bool { return s.model != nil }

// Predict scores a snapshot. It fails only for a malformed snapshot.
func (s *Scorer) Predict(snap *domain.TokenSnapshot) (*domain.MLPrediction, error) {
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	f := Extract(snap)

	var (
		prob, conf float64
		modelUsed  bool
	)
	if s.model != nil {
		p, err := s.model.Probability(f)
		if err != nil {
			s.log.Warn().Err(err).Str("address", snap.Address).Msg("model inference failed, using fallback formula")
		} else {
			prob = clamp01(p)
			conf = math.Abs(prob-0.5) * 2
			modelUsed = true
		}
	}
	if !modelUsed {
		prob = FallbackProbability(f)
		conf = fallbackConfidence
	}

	return &domain.MLPrediction{
		Probability:    prob,
		Verdict:        domain.VerdictFor(prob),
		Confidence:     clamp01(conf),
		ModelAvailable: modelUsed,
		TopFactors:     TopFactors(f, snap),
	}, nil
}

// FallbackProbability is the additive formula used when no model is loaded.
func FallbackProbability(f Features) float64 {
	var score float64
	if lowLiquidity(f) {
		score += fallbackLowLiqScore
	}
	if f[FeatureTop10Percent] > highConcentration {
		score += 0.2
	}
	if f[FeatureContractVerified] == 0 {
		score += 0.2
	}
	if mintRisk(f) {
		score += 0.2
	}
	if f[FeatureContractAgeHours] < newContractHours {
		score += 0.1
	}
	if f[FeatureVolumeLiquidityRate] < lowVolumeLiquidity {
		score += 0.1
	}
	return clamp01(score)
}

// TopFactors lists the contributing signals by contribution, at most five.
func TopFactors(f Features, snap *domain.TokenSnapshot) []domain.RiskFactor {
	factors := []domain.RiskFactor{}
	if lowLiquidity(f) {
		factors = append(factors, domain.RiskFactor{
			Factor:       "Low Liquidity",
			Value:        "$" + formatUSD(snap.LiquidityUSD),
			Contribution: 0.3,
		})
	}
	if f[FeatureTop10Percent] > highConcentration {
		factors = append(factors, domain.RiskFactor{
			Factor:       "High Concentration",
			Value:        fmt.Sprintf("%.1f%% in top 10", f[FeatureTop10Percent]),
			Contribution: 0.2,
		})
	}
	if f[FeatureContractVerified] == 0 {
		factors = append(factors, domain.RiskFactor{
			Factor:       "Unverified Contract",
			Value:        "Source code not verified",
			Contribution: 0.2,
		})
	}
	if mintRisk(f) {
		factors = append(factors, domain.RiskFactor{
			Factor:       "Mint Risk",
			Value:        "Can create new tokens",
			Contribution: 0.2,
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})
	if len(factors) > maxTopFactors {
		factors = factors[:maxTopFactors]
	}
	return factors
}

func lowLiquidity(f Features) bool {
	return f[FeatureLiquidityLog] < math.Log1p(lowLiquidityUSD)
}

func mintRisk(f Features) bool {
	return f[FeatureHasMintFunction] == 1 && f[FeatureOwnershipRenounced] == 0
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func formatUSD(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', 0, 64)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
