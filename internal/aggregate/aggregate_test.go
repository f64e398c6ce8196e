package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
)

func critical(reason string) domain.Risk {
	return domain.Risk{Type: "X", Score: 0.9, Severity: domain.SeverityCritical, Reason: reason}
}

func TestRiskScore_Weights(t *testing.T) {
	a := New(DefaultConfig())
	got := a.RiskScore(
		&domain.HeuristicResult{OverallScore: 0.5},
		&domain.MLPrediction{Probability: 0.25},
		&domain.SmartMoneyAnalysis{Score: 0.6},
	)
	assert.InDelta(t, 0.5*0.4+0.25*0.4+0.4*0.2, got, 1e-9)
}

func TestRecommend_DecisionTable(t *testing.T) {
	tests := []struct {
		name        string
		h           domain.HeuristicResult
		ml          domain.MLPrediction
		sm          domain.SmartMoneyAnalysis
		wantAction  domain.RecommendationAction
		wantReasons []string
		wantSuggest []string
	}{
		{
			name:        "avoid",
			h:           domain.HeuristicResult{OverallScore: 1, CriticalRisks: []domain.Risk{critical("a"), critical("b"), critical("c")}},
			ml:          domain.MLPrediction{Probability: 0.9},
			sm:          domain.SmartMoneyAnalysis{Score: 0, Phase: domain.PhaseDistribution},
			wantAction:  domain.ActionAvoid,
			wantReasons: []string{"High overall risk score: 0.96", "ML model indicates 90% scam probability", "Smart money appears to be exiting", "a", "b"},
			wantSuggest: []string{},
		},
		{
			name:        "investigate",
			h:           domain.HeuristicResult{OverallScore: 0},
			ml:          domain.MLPrediction{Probability: 0.1},
			sm:          domain.SmartMoneyAnalysis{Score: 0.9, Phase: domain.PhaseAccumulation},
			wantAction:  domain.ActionInvestigate,
			wantReasons: []string{"Low risk with high smart money interest", "Smart money appears to be accumulating"},
			wantSuggest: []string{"Consider small position with stop-loss"},
		},
		{
			name:        "low risk without smart money interest",
			h:           domain.HeuristicResult{OverallScore: 0},
			ml:          domain.MLPrediction{Probability: 0},
			sm:          domain.SmartMoneyAnalysis{Score: 0.7},
			wantAction:  domain.ActionCaution,
			wantReasons: []string{"Mixed signals require careful analysis"},
			wantSuggest: []string{},
		},
		{
			name:        "mixed",
			h:           domain.HeuristicResult{OverallScore: 0.5},
			ml:          domain.MLPrediction{Probability: 0.75},
			sm:          domain.SmartMoneyAnalysis{Score: 0.5},
			wantAction:  domain.ActionCaution,
			wantReasons: []string{"Mixed signals require careful analysis", "ML model indicates 75% scam probability"},
			wantSuggest: []string{},
		},
	}

	a := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := a.RiskScore(&tt.h, &tt.ml, &tt.sm)
			rec := a.Recommend(risk, &tt.h, &tt.ml, &tt.sm)
			assert.Equal(t, tt.wantAction, rec.Action)
			assert.Equal(t, tt.wantReasons, rec.Reasons)
			assert.Equal(t, tt.wantSuggest, rec.SuggestedActions)
		})
	}
}

func TestAggregate(t *testing.T) {
	a := New(DefaultConfig())
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	h := &domain.HeuristicResult{
		Risks:        []domain.Risk{{Type: domain.RiskUnverifiedContract, Score: 0.5, Severity: domain.SeverityMedium}},
		OverallScore: 0.25,
		Passed:       true,
	}
	ml := &domain.MLPrediction{Probability: 0.2, Verdict: domain.VerdictSafe}
	sm := &domain.SmartMoneyAnalysis{Score: 0.3, Phase: domain.PhaseNone}

	final := a.Aggregate(h, ml, sm)
	require.NotNil(t, final)
	assert.InDelta(t, 0.25*0.4+0.2*0.4+0.7*0.2, final.RiskScore, 1e-9)
	assert.Equal(t, 0.25, final.HeuristicScore)
	assert.True(t, final.HeuristicPassed)
	assert.Equal(t, h.Risks, final.HeuristicRisks)
	assert.Same(t, ml, final.MLPrediction)
	assert.Equal(t, domain.ActionCaution, final.Recommendation.Action)
	assert.Equal(t, fixed, final.CreatedAt)
}

func TestRiskScore_InRange(t *testing.T) {
	a := New(DefaultConfig())
	for _, h := range []float64{0, 0.5, 1} {
		for _, p := range []float64{0, 0.5, 1} {
			for _, s := range []float64{0, 0.5, 1} {
				got := a.RiskScore(&domain.HeuristicResult{OverallScore: h}, &domain.MLPrediction{Probability: p}, &domain.SmartMoneyAnalysis{Score: s})
				assert.GreaterOrEqual(t, got, 0.0)
				assert.LessOrEqual(t, got, 1.0)
			}
		}
	}
}
