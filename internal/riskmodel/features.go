// Package riskmodel scores a token snapshot with a trained logistic model,
// or with a deterministic formula over the same features when no model is
// loaded. Both paths produce the same output contract.
package riskmodel

import (
	"math"

	"token-risk-lab/internal/domain"
)

// Feature names, in the order a model export lists them.
const (
	FeatureLiquidityLog        = "liquidity_usd_log"
	FeatureVolumeLog           = "volume_24h_log"
	FeatureHolderCountLog      = "holder_count_log"
	FeatureTop10Percent        = "top10_holders_percent"
	FeatureContractAgeHours    = "contract_age_hours"
	FeatureContractVerified    = "contract_verified"
	FeatureOwnershipRenounced  = "ownership_renounced"
	FeatureHasMintFunction     = "has_mint_function"
	FeatureLiquidityMcapRatio  = "liquidity_market_cap_ratio"
	FeatureVolumeLiquidityRate = "volume_liquidity_ratio"
	FeaturePriceChangeAbs      = "price_change_24h_abs"
	FeaturePoolCount           = "pool_count"
	FeatureTotalSupplyLog      = "total_supply_log"
)

// FeatureNames is the full feature set.
var FeatureNames = []string{
	FeatureLiquidityLog,
	FeatureVolumeLog,
	FeatureHolderCountLog,
	FeatureTop10Percent,
	FeatureContractAgeHours,
	FeatureContractVerified,
	FeatureOwnershipRenounced,
	FeatureHasMintFunction,
	FeatureLiquidityMcapRatio,
	FeatureVolumeLiquidityRate,
	FeaturePriceChangeAbs,
	FeaturePoolCount,
	FeatureTotalSupplyLog,
}

// maxAgeHours caps contract age; unknown age counts as the cap.
const maxAgeHours = 720

// Features maps feature name to value.
type Features map[string]float64

// Extract derives the model features from a snapshot. Age is measured at
// collection time.
func Extract(s *domain.TokenSnapshot) Features {
	age := float64(maxAgeHours)
	if d, ok := s.ContractAge(); ok {
		age = math.Min(d.Hours(), maxAgeHours)
	}

	return Features{
		FeatureLiquidityLog:        math.Log1p(s.LiquidityUSD),
		FeatureVolumeLog:           math.Log1p(s.Volume24h),
		FeatureHolderCountLog:      math.Log1p(float64(s.HolderCount)),
		FeatureTop10Percent:        s.Top10HoldersPercent,
		FeatureContractAgeHours:    age,
		FeatureContractVerified:    boolFloat(s.ContractVerified),
		FeatureOwnershipRenounced:  boolFloat(s.OwnershipRenounced),
		FeatureHasMintFunction:     boolFloat(s.HasMintFunction),
		FeatureLiquidityMcapRatio:  s.LiquidityUSD / math.Max(s.MarketCap, 1),
		FeatureVolumeLiquidityRate: s.Volume24h / math.Max(s.LiquidityUSD, 1),
		FeaturePriceChangeAbs:      math.Abs(s.PriceChange24hPercent),
		FeaturePoolCount:           float64(s.PoolCount),
		FeatureTotalSupplyLog:      math.Log1p(s.TotalSupply),
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Vector returns the values for names in order. Unknown names yield 0.
func (f Features) Vector(names []string) []float64 {
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = f[n]
	}
	return out
}
