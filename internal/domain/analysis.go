package domain

import "time"

// Verdict is the binary output of the risk scorer.
type Verdict string

const (
	VerdictScam Verdict = "SCAM"
	VerdictSafe Verdict = "SAFE"
)

// VerdictFor returns SCAM iff probability > 0.5.
func VerdictFor(probability float64) Verdict {
	if probability > 0.5 {
		return VerdictScam
	}
	return VerdictSafe
}

// RiskFactor is one contributing signal behind an ML prediction.
type RiskFactor struct {
	Factor       string  `json:"factor"`
	Value        string  `json:"value"`
	Contribution float64 `json:"risk_contribution"`
}

// MLPrediction has the same shape whether it came from a trained model or the fallback formula.
type MLPrediction struct {
	Probability    float64      `json:"scam_probability"`
	Verdict        Verdict      `json:"prediction"`
	Confidence     float64      `json:"confidence"`
	ModelAvailable bool         `json:"model_available"`
	TopFactors     []RiskFactor `json:"top_risk_factors"`
}

// MarketPhase is the inferred smart-money market behavior.
type MarketPhase string

const (
	PhaseNone         MarketPhase = "none"
	PhaseAccumulation MarketPhase = "accumulation"
	PhaseDistribution MarketPhase = "distribution"
)

// SmartMoneyAnalysis is the output of the smart-money analyzer.
type SmartMoneyAnalysis struct {
	Score          float64     `json:"smart_money_score"`
	HoldingWallets []string    `json:"smart_wallets_holding"`
	Phase          MarketPhase `json:"phase"`
	Confidence     float64     `json:"confidence"`
}

// RecommendationAction is the top-level advice.
type RecommendationAction string

const (
	ActionAvoid       RecommendationAction = "AVOID"
	ActionCaution     RecommendationAction = "CAUTION"
	ActionInvestigate RecommendationAction = "INVESTIGATE"
)

// Recommendation is derived deterministically from the three scoring outputs.
type Recommendation struct {
	Action           RecommendationAction `json:"action"`
	Reasons          []string             `json:"reasons"`
	SuggestedActions []string             `json:"suggested_actions"`
}

// FinalAnalysis is created once per completed task and never mutated afterwards.
type FinalAnalysis struct {
	TaskID             string              `json:"task_id"`
	Subject            Subject             `json:"subject"`
	RiskScore          float64             `json:"risk_score"`
	HeuristicScore     float64             `json:"heuristic_score"`
	HeuristicPassed    bool                `json:"heuristic_passed"`
	HeuristicRisks     []Risk              `json:"heuristic_risks"`
	MLPrediction       *MLPrediction       `json:"ml_prediction"`
	SmartMoneyAnalysis *SmartMoneyAnalysis `json:"smart_money_analysis"`
	Recommendation     Recommendation      `json:"recommendation"`
	AnalysisMs         int64               `json:"analysis_time_ms"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Clone returns a deep copy.
func (f *FinalAnalysis) Clone() *FinalAnalysis {
	if f == nil {
		return nil
	}
	c := *f
	c.HeuristicRisks = append([]Risk{}, f.HeuristicRisks...)
	if f.MLPrediction != nil {
		ml := *f.MLPrediction
		ml.TopFactors = append([]RiskFactor{}, f.MLPrediction.TopFactors...)
		c.MLPrediction = &ml
	}
	if f.SmartMoneyAnalysis != nil {
		sm := *f.SmartMoneyAnalysis
		sm.HoldingWallets = append([]string{}, f.SmartMoneyAnalysis.HoldingWallets...)
		c.SmartMoneyAnalysis = &sm
	}
	c.Recommendation.Reasons = append([]string{}, f.Recommendation.Reasons...)
	c.Recommendation.SuggestedActions = append([]string{}, f.Recommendation.SuggestedActions...)
	return &c
}

// TokenMetrics is one time-series sample of a token's market signals,
// written by the metrics refresher.
type TokenMetrics struct {
	Subject      Subject   `json:"subject"`
	PriceUSD     float64   `json:"price_usd"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	Volume24h    float64   `json:"volume_24h"`
	MarketCap    float64   `json:"market_cap"`
	HolderCount  int       `json:"holder_count"`
	SampledAt    time.Time `json:"sampled_at"`
}

// MetricsFromSnapshot extracts a metrics sample from a snapshot.
func MetricsFromSnapshot(s *TokenSnapshot) *TokenMetrics {
	return &TokenMetrics{
		Subject:      Subject{Address: s.Address, ChainID: s.ChainID},
		PriceUSD:     s.PriceUSD,
		LiquidityUSD: s.LiquidityUSD,
		Volume24h:    s.Volume24h,
		MarketCap:    s.MarketCap,
		HolderCount:  s.HolderCount,
		SampledAt:    s.CollectedAt,
	}
}
