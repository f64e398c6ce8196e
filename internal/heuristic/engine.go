// Package heuristic implements the rule-based risk checks over a token snapshot.
//
// Every check is pure and reads only the snapshot, so checks run concurrently.
// Results are always reported in the fixed step order of CheckSteps.
package heuristic

import (
	"math"
	"sync"

	"token-risk-lab/internal/domain"
)

// Config holds the configurable thresholds.
type Config struct {
	MinLiquidityUSD float64
	MinHolders      int
	MaxRiskScore    float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{MinLiquidityUSD: 10000, MinHolders: 50, MaxRiskScore: 0.7}
}

// Check is one named rule attributed to a task step.
type Check struct {
	Name string
	Step domain.AnalysisStep
	Run  func(s *domain.TokenSnapshot) []domain.Risk
}

// CheckSteps lists the steps heuristic checks report under, in order.
var CheckSteps = []domain.AnalysisStep{
	domain.StepCheckingHoneypot,
	domain.StepAnalyzingLiquidity,
	domain.StepVerifyingOwnership,
	domain.StepAnalyzingHolders,
	domain.StepEvaluatingContractSafety,
}

// Engine runs the checks with injected thresholds.
type Engine struct {
	cfg    Config
	checks []Check
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.checks = []Check{
		{Name: "honeypot", Step: domain.StepCheckingHoneypot, Run: e.checkHoneypot},
		{Name: "liquidity", Step: domain.StepAnalyzingLiquidity, Run: e.checkLiquidity},
		{Name: "ownership", Step: domain.StepVerifyingOwnership, Run: e.checkOwnership},
		{Name: "holders", Step: domain.StepAnalyzingHolders, Run: e.checkHolders},
		{Name: "contract", Step: domain.StepEvaluatingContractSafety, Run: e.checkContractSafety},
		{Name: "trading", Step: domain.StepAnalyzingLiquidity, Run: e.checkTradingPatterns},
	}
	return e
}

// Config returns the engine thresholds.
func (e *Engine) Config() Config { return e.cfg }

// Checks returns the checks in reporting order.
func (e *Engine) Checks() []Check {
	return append([]Check(nil), e.checks...)
}

// CheckResults holds the risks each check produced, in check order.
type CheckResults struct {
	checks []Check
	risks  [][]domain.Risk
}

// ForStep returns the risks attributed to step, in check order.
func (r *CheckResults) ForStep(step domain.AnalysisStep) []domain.Risk {
	var out []domain.Risk
	for i, c := range r.checks {
		if c.Step == step {
			out = append(out, r.risks[i]...)
		}
	}
	return out
}

// All returns every risk in reporting order.
func (r *CheckResults) All() []domain.Risk {
	out := []domain.Risk{}
	for _, step := range CheckSteps {
		out = append(out, r.ForStep(step)...)
	}
	return out
}

// Evaluate runs all checks concurrently. The snapshot is only read.
func (e *Engine) Evaluate(s *domain.TokenSnapshot) *CheckResults {
	res := &CheckResults{checks: e.checks, risks: make([][]domain.Risk, len(e.checks))}

	var wg sync.WaitGroup
	for i, c := range e.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			res.risks[i] = c.Run(s)
		}(i, c)
	}
	wg.Wait()

	return res
}

// Analyze evaluates the snapshot and summarizes the result.
func (e *Engine) Analyze(s *domain.TokenSnapshot) *domain.HeuristicResult {
	return e.Summarize(e.Evaluate(s).All())
}

// Summarize scores risks and applies the pass rule: overall score below the
// configured maximum and no CRITICAL risk.
func (e *Engine) Summarize(risks []domain.Risk) *domain.HeuristicResult {
	critical := []domain.Risk{}
	for _, r := range risks {
		if r.Severity == domain.SeverityCritical {
			critical = append(critical, r)
		}
	}
	if risks == nil {
		risks = []domain.Risk{}
	}

	score := Score(risks)
	return &domain.HeuristicResult{
		Risks:         risks,
		OverallScore:  score,
		Passed:        score < e.cfg.MaxRiskScore && len(critical) == 0,
		CriticalRisks: critical,
	}
}

// Score is the package Score bound to the engine.
func (e *Engine) Score(risks []domain.Risk) float64 { return Score(risks) }

// Score is the severity-weighted mean of risk scores, clipped to [0,1].
// No risks score 0.
func Score(risks []domain.Risk) float64 {
	if len(risks) == 0 {
		return 0
	}
	var sum float64
	for _, r := range risks {
		sum += r.Score * r.Severity.Weight()
	}
	return clamp01(sum / float64(len(risks)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
