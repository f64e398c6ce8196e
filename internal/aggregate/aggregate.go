// Package aggregate combines the heuristic, model and smart-money outputs into
// the overall risk score and recommendation.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"token-risk-lab/internal/domain"
)

const (
	reasonInvestigate  = "Low risk with high smart money interest"
	reasonCaution      = "Mixed signals require careful analysis"
	reasonAccumulating = "Smart money appears to be accumulating"
	reasonExiting      = "Smart money appears to be exiting"
	suggestSmallEntry  = "Consider small position with stop-loss"
)

// Config holds the weights and decision thresholds.
type Config struct {
	HeuristicWeight         float64
	MLWeight                float64
	SmartMoneyWeight        float64
	AvoidAbove              float64
	InvestigateBelow        float64
	SmartMoneyInterestAbove float64
	MLNoteAbove             float64
	MaxCriticalReasons      int
}

// DefaultConfig returns the stock weights 0.4/0.4/0.2 and thresholds.
func DefaultConfig() Config {
	return Config{
		HeuristicWeight:         0.4,
		MLWeight:                0.4,
		SmartMoneyWeight:        0.2,
		AvoidAbove:              0.7,
		InvestigateBelow:        0.3,
		SmartMoneyInterestAbove: 0.7,
		MLNoteAbove:             0.7,
		MaxCriticalReasons:      2,
	}
}

// Aggregator is stateless apart from its config and clock.
type Aggregator struct {
	cfg Config
	now func() time.Time
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg, now: time.Now}
}

// RiskScore is the weighted overall risk. Smart money interest lowers risk.
func (a *Aggregator) RiskScore(h *domain.HeuristicResult, ml *domain.MLPrediction, sm *domain.SmartMoneyAnalysis) float64 {
	score := h.OverallScore*a.cfg.HeuristicWeight +
		ml.Probability*a.cfg.MLWeight +
		(1-sm.Score)*a.cfg.SmartMoneyWeight
	if math.IsNaN(score) {
		return 1
	}
	return math.Max(0, math.Min(1, score))
}

// Aggregate builds the FinalAnalysis. The caller fills task identity and timing.
func (a *Aggregator) Aggregate(h *domain.HeuristicResult, ml *domain.MLPrediction, sm *domain.SmartMoneyAnalysis) *domain.FinalAnalysis {
	risk := a.RiskScore(h, ml, sm)

	return &domain.FinalAnalysis{
		RiskScore:          risk,
		HeuristicScore:     h.OverallScore,
		HeuristicPassed:    h.Passed,
		HeuristicRisks:     append([]domain.Risk{}, h.Risks...),
		MLPrediction:       ml,
		SmartMoneyAnalysis: sm,
		Recommendation:     a.Recommend(risk, h, ml, sm),
		CreatedAt:          a.now().UTC(),
	}
}

// Recommend applies the decision table in order: AVOID, INVESTIGATE, CAUTION.
// Supplementary reasons are appended after the primary one.
func (a *Aggregator) Recommend(risk float64, h *domain.HeuristicResult, ml *domain.MLPrediction, sm *domain.SmartMoneyAnalysis) domain.Recommendation {
	rec := domain.Recommendation{Reasons: []string{}, SuggestedActions: []string{}}

	switch {
	case risk > a.cfg.AvoidAbove:
		rec.Action = domain.ActionAvoid
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("High overall risk score: %.2f", risk))
	case risk < a.cfg.InvestigateBelow && sm.Score > a.cfg.SmartMoneyInterestAbove:
		rec.Action = domain.ActionInvestigate
		rec.Reasons = append(rec.Reasons, reasonInvestigate)
		rec.SuggestedActions = append(rec.SuggestedActions, suggestSmallEntry)
	default:
		rec.Action = domain.ActionCaution
		rec.Reasons = append(rec.Reasons, reasonCaution)
	}

	if ml.Probability > a.cfg.MLNoteAbove {
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("ML model indicates %.0f%% scam probability", ml.Probability*100))
	}

	switch sm.Phase {
	case domain.PhaseAccumulation:
		rec.Reasons = append(rec.Reasons, reasonAccumulating)
	case domain.PhaseDistribution:
		rec.Reasons = append(rec.Reasons, reasonExiting)
	}

	for i, r := range h.CriticalRisks {
		if i >= a.cfg.MaxCriticalReasons {
			break
		}
		rec.Reasons = append(rec.Reasons, r.Reason)
	}

	return rec
}
