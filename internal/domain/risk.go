package domain

// Severity classifies a heuristic risk.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight returns the severity weight used in the overall heuristic score.
// Unknown severities weigh like MEDIUM.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.3
	default:
		return 0.5
	}
}

// Risk is a single rule-based red flag. Immutable once produced.
type Risk struct {
	Type     string   `json:"type"`
	Score    float64  `json:"score"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Risk type codes.
const (
	RiskHoneypotCannotSell    = "HONEYPOT_CANNOT_SELL"
	RiskHoneypotHighTax       = "HONEYPOT_HIGH_TAX"
	RiskHighSellTax           = "HIGH_SELL_TAX"
	RiskExtremelyLowLiquidity = "EXTREMELY_LOW_LIQUIDITY"
	RiskLowLiquidity          = "LOW_LIQUIDITY"
	RiskPoorLiquidityRatio    = "POOR_LIQUIDITY_RATIO"
	RiskCentralizedOwnership  = "CENTRALIZED_OWNERSHIP"
	RiskActiveMintFunction    = "ACTIVE_MINT_FUNCTION"
	RiskVeryFewHolders        = "VERY_FEW_HOLDERS"
	RiskLowHolderCount        = "LOW_HOLDER_COUNT"
	RiskHighConcentration     = "HIGH_CONCENTRATION"
	RiskUnverifiedContract    = "UNVERIFIED_CONTRACT"
	RiskNewContract           = "NEW_CONTRACT"
	RiskLowTradingActivity    = "LOW_TRADING_ACTIVITY"
)

// HeuristicResult is the output of the heuristic engine.
type HeuristicResult struct {
	Risks         []Risk  `json:"risks"`
	OverallScore  float64 `json:"overall_score"`
	Passed        bool    `json:"passed"`
	CriticalRisks []Risk  `json:"critical_risks"`
}
