package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		address string
		chainID int64
		want    string
		wantErr bool
	}{
		{
			name:    "evm lowercased",
			address: "0xA0b86991C6218b36c1d19D4a2e9Eb0cE3606eB48",
			chainID: ChainEthereum,
			want:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		},
		{
			name:    "evm trimmed",
			address: "  0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 ",
			chainID: ChainBase,
			want:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		},
		{
			name:    "evm too short",
			address: "0x1234",
			chainID: ChainBSC,
			wantErr: true,
		},
		{
			name:    "evm non hex",
			address: "0xz0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			chainID: ChainPolygon,
			wantErr: true,
		},
		{
			name:    "solana mint keeps case",
			address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			chainID: ChainSolana,
			want:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		},
		{
			name:    "solana invalid base58",
			address: "0OIl",
			chainID: ChainSolana,
			wantErr: true,
		},
		{
			name:    "unsupported chain",
			address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			chainID: 999,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSubject(tt.address, tt.chainID)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSubject) {
					t.Fatalf("expected ErrInvalidSubject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Address != tt.want {
				t.Errorf("address = %q, want %q", got.Address, tt.want)
			}
			if got.ChainID != tt.chainID {
				t.Errorf("chain = %d, want %d", got.ChainID, tt.chainID)
			}
		})
	}
}

func TestSubjectKey(t *testing.T) {
	s := Subject{Address: "0xabc", ChainID: 56}
	if s.Key() != "56:0xabc" {
		t.Errorf("key = %q", s.Key())
	}
}

func TestStepProgressMonotonic(t *testing.T) {
	prev := -1
	for _, step := range RunningSteps {
		p := step.Progress()
		if p <= prev {
			t.Fatalf("step %s progress %d not above %d", step, p, prev)
		}
		prev = p
	}
	if StepCompleted.Progress() != 100 || StepFailed.Progress() != 100 {
		t.Error("terminal steps must report 100")
	}
	if AnalysisStep("BOGUS").Progress() != -1 {
		t.Error("unknown step must report -1")
	}
}

func TestAnalysisTask_Apply(t *testing.T) {
	now := time.Unix(1700000000, 0)
	task := NewAnalysisTask("t1", Subject{Address: "0xabc", ChainID: 1}, now)

	// PENDING tasks reject stage updates.
	if task.Apply(NewStageUpdate(StepInitializing, nil), now) {
		t.Fatal("pending task accepted update")
	}

	task.Status = TaskRunning
	risk := Risk{Type: RiskUnverifiedContract, Score: 0.5, Severity: SeverityMedium}
	if !task.Apply(NewStageUpdate(StepEvaluatingContractSafety, []Risk{risk}), now) {
		t.Fatal("running task rejected update")
	}
	if task.ProgressPercent != 60 || len(task.IntermediateRisks) != 1 {
		t.Fatalf("unexpected state: %+v", task)
	}

	// Progress may not go backwards.
	if task.Apply(NewStageUpdate(StepFetchingData, nil), now) {
		t.Fatal("regressing update accepted")
	}
	if task.CurrentStep != StepEvaluatingContractSafety {
		t.Errorf("step changed to %s", task.CurrentStep)
	}
}

func TestTaskStatusRank(t *testing.T) {
	if !(TaskPending.Rank() < TaskRunning.Rank() && TaskRunning.Rank() < TaskCompleted.Rank()) {
		t.Error("rank not ordered")
	}
	if TaskCompleted.Rank() != TaskFailed.Rank() {
		t.Error("terminal ranks differ")
	}
	if !TaskFailed.IsTerminal() || TaskRunning.IsTerminal() {
		t.Error("IsTerminal wrong")
	}
}

func TestSnapshot_FinalizeAndValidate(t *testing.T) {
	s := &TokenSnapshot{LiquidityUSD: 1000, Volume24h: 50, MarketCap: 100000}
	DefaultSecurityData().Apply(s)
	s.Finalize()

	if s.CanSell {
		t.Error("pessimistic security default must disable selling")
	}
	if s.VolumeLiquidityRatio != 0.05 {
		t.Errorf("vol/liq = %v", s.VolumeLiquidityRatio)
	}
	if s.LiquidityMarketCapRatio != 0.01 {
		t.Errorf("liq/mcap = %v", s.LiquidityMarketCapRatio)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	s.LiquidityUSD = math.NaN()
	if err := s.Validate(); err == nil {
		t.Error("expected error for NaN liquidity")
	}
}

func TestContractData_ApplyPartial(t *testing.T) {
	s := &TokenSnapshot{}
	yes := true
	(&ContractData{Verified: &yes, Name: "Token"}).Apply(s)
	renounced := true
	(&ContractData{OwnershipRenounced: &renounced}).Apply(s)

	if !s.ContractVerified || !s.OwnershipRenounced || s.ContractName != "Token" {
		t.Errorf("partial fragments not merged: %+v", s)
	}
}

func TestContractAge(t *testing.T) {
	collected := time.Unix(1700000000, 0)
	s := &TokenSnapshot{CollectedAt: collected}
	if _, ok := s.ContractAge(); ok {
		t.Error("age must be unknown without creation time")
	}
	s.ContractCreatedAt = collected.Add(-2 * time.Hour)
	age, ok := s.ContractAge()
	if !ok || age != 2*time.Hour {
		t.Errorf("age = %v ok=%v", age, ok)
	}
}

func TestFinalAnalysis_CloneIsDeep(t *testing.T) {
	f := &FinalAnalysis{
		HeuristicRisks:     []Risk{{Type: "A"}},
		MLPrediction:       &MLPrediction{TopFactors: []RiskFactor{{Factor: "x"}}},
		SmartMoneyAnalysis: &SmartMoneyAnalysis{HoldingWallets: []string{"w"}},
		Recommendation:     Recommendation{Reasons: []string{"r"}},
	}
	c := f.Clone()
	c.HeuristicRisks[0].Type = "B"
	c.MLPrediction.TopFactors[0].Factor = "y"
	c.SmartMoneyAnalysis.HoldingWallets[0] = "v"
	c.Recommendation.Reasons[0] = "s"

	if f.HeuristicRisks[0].Type != "A" || f.MLPrediction.TopFactors[0].Factor != "x" ||
		f.SmartMoneyAnalysis.HoldingWallets[0] != "w" || f.Recommendation.Reasons[0] != "r" {
		t.Error("clone shares state with original")
	}
}

func TestVerdictFor(t *testing.T) {
	if VerdictFor(0.5) != VerdictSafe || VerdictFor(0.51) != VerdictScam {
		t.Error("verdict threshold wrong")
	}
}
