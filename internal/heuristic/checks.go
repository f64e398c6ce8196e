package heuristic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"token-risk-lab/internal/domain"
)

const (
	criticalLiquidityUSD = 5000
	criticalHolderCount  = 20
	minLiquidityMcapRate = 0.02
	maxTop10Percent      = 80
	minContractAge       = 24 * time.Hour
	minVolumeLiquidity   = 0.1
	extremeSellTax       = 50
	highSellTax          = 25
)

func risk(typ string, score float64, sev domain.Severity, reason string) domain.Risk {
	return domain.Risk{Type: typ, Score: score, Severity: sev, Reason: reason}
}

// checkHoneypot reads the primitive sell flags rather than the derived
// CanSell so a snapshot that was never finalized is not treated as unsellable.
func (e *Engine) checkHoneypot(s *domain.TokenSnapshot) []domain.Risk {
	var risks []domain.Risk

	if s.CannotSellAll || s.IsHoneypot {
		risks = append(risks, risk(domain.RiskHoneypotCannotSell, 1.0, domain.SeverityCritical,
			"Token cannot be sold"))
	}

	switch {
	case s.SellTax > extremeSellTax:
		risks = append(risks, risk(domain.RiskHoneypotHighTax, 0.9, domain.SeverityCritical,
			fmt.Sprintf("Extremely high sell tax: %s%%", formatPercent(s.SellTax))))
	case s.SellTax > highSellTax:
		risks = append(risks, risk(domain.RiskHighSellTax, 0.6, domain.SeverityHigh,
			fmt.Sprintf("High sell tax: %s%%", formatPercent(s.SellTax))))
	}

	return risks
}

// checkLiquidity flags thin pools. The market-cap ratio only applies when
// both sides are reported.
func (e *Engine) checkLiquidity(s *domain.TokenSnapshot) []domain.Risk {
	var risks []domain.Risk

	switch {
	case s.LiquidityUSD < criticalLiquidityUSD:
		risks = append(risks, risk(domain.RiskExtremelyLowLiquidity, 0.9, domain.SeverityCritical,
			"Liquidity only $"+formatUSD(s.LiquidityUSD)))
	case s.LiquidityUSD < e.cfg.MinLiquidityUSD:
		risks = append(risks, risk(domain.RiskLowLiquidity, 0.7, domain.SeverityHigh,
			"Low liquidity: $"+formatUSD(s.LiquidityUSD)))
	}

	if s.LiquidityUSD > 0 && s.MarketCap > 0 {
		ratio := s.LiquidityUSD / s.MarketCap
		if ratio < minLiquidityMcapRate {
			risks = append(risks, risk(domain.RiskPoorLiquidityRatio, 0.8, domain.SeverityHigh,
				fmt.Sprintf("Liquidity only %.1f%% of market cap", ratio*100)))
		}
	}

	return risks
}

func (e *Engine) checkOwnership(s *domain.TokenSnapshot) []domain.Risk {
	var risks []domain.Risk

	if !s.OwnershipRenounced {
		risks = append(risks, risk(domain.RiskCentralizedOwnership, 0.5, domain.SeverityMedium,
			"Contract ownership not renounced"))
	}
	if s.HasMintFunction && !s.MintDisabled {
		risks = append(risks, risk(domain.RiskActiveMintFunction, 0.8, domain.SeverityHigh,
			"Contract can mint new tokens"))
	}

	return risks
}

func (e *Engine) checkHolders(s *domain.TokenSnapshot) []domain.Risk {
	var risks []domain.Risk

	switch {
	case s.HolderCount < criticalHolderCount:
		risks = append(risks, risk(domain.RiskVeryFewHolders, 0.9, domain.SeverityCritical,
			fmt.Sprintf("Only %d holders", s.HolderCount)))
	case s.HolderCount < e.cfg.MinHolders:
		risks = append(risks, risk(domain.RiskLowHolderCount, 0.6, domain.SeverityHigh,
			fmt.Sprintf("Low holder count: %d", s.HolderCount)))
	}

	if s.Top10HoldersPercent > maxTop10Percent {
		risks = append(risks, risk(domain.RiskHighConcentration, 0.7, domain.SeverityHigh,
			fmt.Sprintf("Top 10 holders own %.1f%%", s.Top10HoldersPercent)))
	}

	return risks
}

// checkContractSafety measures age at collection time, so the same snapshot
// always yields the same risks.
func (e *Engine) checkContractSafety(s *domain.TokenSnapshot) []domain.Risk {
	var risks []domain.Risk

	if !s.ContractVerified {
		risks = append(risks, risk(domain.RiskUnverifiedContract, 0.5, domain.SeverityMedium,
			"Contract source not verified"))
	}
	if age, ok := s.ContractAge(); ok && age < minContractAge {
		risks = append(risks, risk(domain.RiskNewContract, 0.5, domain.SeverityMedium,
			"Contract less than 24 hours old"))
	}

	return risks
}

// checkTradingPatterns needs both volume and liquidity to say anything.
func (e *Engine) checkTradingPatterns(s *domain.TokenSnapshot) []domain.Risk {
	if s.LiquidityUSD <= 0 || s.Volume24h <= 0 {
		return nil
	}
	ratio := s.Volume24h / s.LiquidityUSD
	if ratio >= minVolumeLiquidity {
		return nil
	}
	return []domain.Risk{risk(domain.RiskLowTradingActivity, 0.5, domain.SeverityMedium,
		fmt.Sprintf("Very low volume/liquidity ratio: %.2f", ratio))}
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatUSD renders v rounded to whole dollars with thousands separators.
func formatUSD(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
