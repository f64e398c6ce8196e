package heuristic

import (
	"math"
	"reflect"
	"testing"
	"time"

	"token-risk-lab/internal/domain"
)

func riskTypes(risks []domain.Risk) []string {
	out := make([]string, 0, len(risks))
	for _, r := range risks {
		out = append(out, r.Type)
	}
	return out
}

func hasRisk(risks []domain.Risk, typ string, sev domain.Severity) bool {
	for _, r := range risks {
		if r.Type == typ && r.Severity == sev {
			return true
		}
	}
	return false
}

func TestAnalyze_HealthyToken(t *testing.T) {
	snap := &domain.TokenSnapshot{
		LiquidityUSD:        80000,
		HolderCount:         1200,
		SellTax:             0,
		OwnershipRenounced:  true,
		ContractVerified:    true,
		Top10HoldersPercent: 20,
	}

	res := NewEngine(DefaultConfig()).Analyze(snap)

	for _, r := range res.Risks {
		if r.Severity == domain.SeverityCritical || r.Severity == domain.SeverityHigh {
			t.Errorf("unexpected %s risk %s: %s", r.Severity, r.Type, r.Reason)
		}
	}
	if res.OverallScore > 1e-9 {
		t.Errorf("expected overall score ~0, got %v", res.OverallScore)
	}
	if !res.Passed {
		t.Error("expected passed")
	}
	if len(res.CriticalRisks) != 0 {
		t.Errorf("expected no critical risks, got %v", riskTypes(res.CriticalRisks))
	}
}

func TestAnalyze_Honeypot(t *testing.T) {
	snap := &domain.TokenSnapshot{
		LiquidityUSD:  2000,
		HolderCount:   5,
		SellTax:       60,
		CannotSellAll: true,
	}
	snap.Finalize()
	if snap.CanSell {
		t.Fatal("expected can_sell=false")
	}

	res := NewEngine(DefaultConfig()).Analyze(snap)

	for _, typ := range []string{
		domain.RiskHoneypotCannotSell,
		domain.RiskHoneypotHighTax,
		domain.RiskExtremelyLowLiquidity,
		domain.RiskVeryFewHolders,
	} {
		if !hasRisk(res.Risks, typ, domain.SeverityCritical) {
			t.Errorf("missing CRITICAL %s in %v", typ, riskTypes(res.Risks))
		}
	}
	if res.Passed {
		t.Error("expected not passed")
	}
	if len(res.CriticalRisks) != 4 {
		t.Errorf("expected 4 critical risks, got %v", riskTypes(res.CriticalRisks))
	}
	for _, r := range res.CriticalRisks {
		if r.Severity != domain.SeverityCritical {
			t.Errorf("non-critical risk %s in critical list", r.Type)
		}
	}
}

func TestChecks_Thresholds(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		snap domain.TokenSnapshot
		want []string
	}{
		{
			name: "high sell tax",
			snap: domain.TokenSnapshot{SellTax: 30},
			want: []string{domain.RiskHighSellTax},
		},
		{
			name: "low liquidity above critical floor",
			snap: domain.TokenSnapshot{LiquidityUSD: 7000},
			want: []string{domain.RiskLowLiquidity},
		},
		{
			name: "poor liquidity ratio",
			snap: domain.TokenSnapshot{LiquidityUSD: 20000, MarketCap: 10000000},
			want: []string{domain.RiskPoorLiquidityRatio},
		},
		{
			name: "market cap unknown skips ratio",
			snap: domain.TokenSnapshot{LiquidityUSD: 20000},
			want: nil,
		},
		{
			name: "active mint",
			snap: domain.TokenSnapshot{HasMintFunction: true},
			want: []string{domain.RiskActiveMintFunction},
		},
		{
			name: "disabled mint",
			snap: domain.TokenSnapshot{HasMintFunction: true, MintDisabled: true},
			want: nil,
		},
		{
			name: "low holder count",
			snap: domain.TokenSnapshot{HolderCount: 30},
			want: []string{domain.RiskLowHolderCount},
		},
		{
			name: "concentrated",
			snap: domain.TokenSnapshot{Top10HoldersPercent: 85},
			want: []string{domain.RiskHighConcentration},
		},
		{
			name: "new contract",
			snap: domain.TokenSnapshot{ContractCreatedAt: created, CollectedAt: created.Add(3 * time.Hour)},
			want: []string{domain.RiskNewContract},
		},
		{
			name: "old contract",
			snap: domain.TokenSnapshot{ContractCreatedAt: created, CollectedAt: created.Add(72 * time.Hour)},
			want: nil,
		},
		{
			name: "low trading activity",
			snap: domain.TokenSnapshot{LiquidityUSD: 100000, Volume24h: 5000},
			want: []string{domain.RiskLowTradingActivity},
		},
	}

	e := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.snap
			// Neutralize the checks a test case does not target.
			if snap.LiquidityUSD == 0 {
				snap.LiquidityUSD = 50000
			}
			if snap.HolderCount == 0 {
				snap.HolderCount = 500
			}
			snap.OwnershipRenounced = true
			snap.ContractVerified = true

			got := riskTypes(e.Analyze(&snap).Risks)
			want := tt.want
			if want == nil {
				want = []string{}
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("risks = %v, want %v", got, want)
			}
		})
	}
}

func TestChecks_Reasons(t *testing.T) {
	snap := &domain.TokenSnapshot{LiquidityUSD: 1234.4, HolderCount: 5, SellTax: 60, Top10HoldersPercent: 91.25}
	res := NewEngine(DefaultConfig()).Evaluate(snap)

	want := map[string]string{
		domain.RiskHoneypotHighTax:       "Extremely high sell tax: 60%",
		domain.RiskExtremelyLowLiquidity: "Liquidity only $1,234",
		domain.RiskVeryFewHolders:        "Only 5 holders",
		domain.RiskHighConcentration:     "Top 10 holders own 91.2%",
	}
	for _, r := range res.All() {
		if reason, ok := want[r.Type]; ok && r.Reason != reason {
			t.Errorf("%s reason = %q, want %q", r.Type, r.Reason, reason)
		}
	}
}

func TestEvaluate_StepAttribution(t *testing.T) {
	snap := &domain.TokenSnapshot{LiquidityUSD: 100000, Volume24h: 100, HolderCount: 500}
	res := NewEngine(DefaultConfig()).Evaluate(snap)

	liq := riskTypes(res.ForStep(domain.StepAnalyzingLiquidity))
	if !reflect.DeepEqual(liq, []string{domain.RiskLowTradingActivity}) {
		t.Errorf("liquidity step risks = %v", liq)
	}
	own := riskTypes(res.ForStep(domain.StepVerifyingOwnership))
	if !reflect.DeepEqual(own, []string{domain.RiskCentralizedOwnership}) {
		t.Errorf("ownership step risks = %v", own)
	}
	if got := res.ForStep(domain.StepCheckingHoneypot); len(got) != 0 {
		t.Errorf("expected no honeypot risks, got %v", riskTypes(got))
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	snap := &domain.TokenSnapshot{LiquidityUSD: 3000, HolderCount: 10, SellTax: 40, HasMintFunction: true, Top10HoldersPercent: 95}
	e := NewEngine(DefaultConfig())

	first := riskTypes(e.Evaluate(snap).All())
	for i := 0; i < 50; i++ {
		if got := riskTypes(e.Evaluate(snap).All()); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d order = %v, want %v", i, got, first)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		risks []domain.Risk
		want  float64
	}{
		{name: "empty", risks: nil, want: 0},
		{
			name:  "single critical",
			risks: []domain.Risk{{Score: 1, Severity: domain.SeverityCritical}},
			want:  1,
		},
		{
			name: "weighted mean",
			risks: []domain.Risk{
				{Score: 0.5, Severity: domain.SeverityMedium},
				{Score: 0.8, Severity: domain.SeverityHigh},
			},
			want: (0.25 + 0.64) / 2,
		},
		{
			name:  "clipped",
			risks: []domain.Risk{{Score: 3, Severity: domain.SeverityCritical}},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.risks); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyze_ScoreInRange(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snaps := []domain.TokenSnapshot{
		{},
		{LiquidityUSD: 1, MarketCap: 1e12, Volume24h: 0.0001, SellTax: 100, IsHoneypot: true, HasMintFunction: true, Top10HoldersPercent: 100},
		{LiquidityUSD: 1e9, HolderCount: 1e6, OwnershipRenounced: true, ContractVerified: true},
	}
	for i := range snaps {
		res := e.Analyze(&snaps[i])
		if res.OverallScore < 0 || res.OverallScore > 1 {
			t.Errorf("snapshot %d: score %v out of range", i, res.OverallScore)
		}
		if len(res.CriticalRisks) > 0 && res.Passed {
			t.Errorf("snapshot %d: passed with critical risks", i)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	tests := map[float64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		4999.6:  "5,000",
		1234567: "1,234,567",
	}
	for in, want := range tests {
		if got := formatUSD(in); got != want {
			t.Errorf("formatUSD(%v) = %q, want %q", in, got, want)
		}
	}
}
