package domain

import "time"

// TaskStatus is the coarse lifecycle state of an AnalysisTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// Rank orders statuses so callers can assert monotonic progression.
// COMPLETED and FAILED share the terminal rank.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskRunning:
		return 1
	case TaskCompleted, TaskFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// AnalysisStep is one named stage of the task state machine.
type AnalysisStep string

const (
	StepQueued                   AnalysisStep = "QUEUED"
	StepInitializing             AnalysisStep = "INITIALIZING"
	StepFetchingData             AnalysisStep = "FETCHING_DATA"
	StepCheckingHoneypot         AnalysisStep = "CHECKING_HONEYPOT"
	StepAnalyzingLiquidity       AnalysisStep = "ANALYZING_LIQUIDITY"
	StepVerifyingOwnership       AnalysisStep = "VERIFYING_OWNERSHIP"
	StepAnalyzingHolders         AnalysisStep = "ANALYZING_HOLDERS"
	StepEvaluatingContractSafety AnalysisStep = "EVALUATING_CONTRACT_SAFETY"
	StepRunningMLDetection       AnalysisStep = "RUNNING_ML_DETECTION"
	StepTrackingSmartMoney       AnalysisStep = "TRACKING_SMART_MONEY"
	StepGeneratingReport         AnalysisStep = "GENERATING_REPORT"
	StepCompleted                AnalysisStep = "COMPLETED"
	StepFailed                   AnalysisStep = "FAILED"
)

// stepProgress holds the fixed progress checkpoint of every step.
var stepProgress = map[AnalysisStep]int{
	StepQueued:                   0,
	StepInitializing:             5,
	StepFetchingData:             10,
	StepCheckingHoneypot:         20,
	StepAnalyzingLiquidity:       30,
	StepVerifyingOwnership:       40,
	StepAnalyzingHolders:         50,
	StepEvaluatingContractSafety: 60,
	StepRunningMLDetection:       70,
	StepTrackingSmartMoney:       80,
	StepGeneratingReport:         90,
	StepCompleted:                100,
	StepFailed:                   100,
}

// RunningSteps lists the RUNNING sub-steps in reporting order.
var RunningSteps = []AnalysisStep{
	StepInitializing,
	StepFetchingData,
	StepCheckingHoneypot,
	StepAnalyzingLiquidity,
	StepVerifyingOwnership,
	StepAnalyzingHolders,
	StepEvaluatingContractSafety,
	StepRunningMLDetection,
	StepTrackingSmartMoney,
	StepGeneratingReport,
}

// Progress returns the checkpoint percentage for the step, or -1 if unknown.
func (s AnalysisStep) Progress() int {
	p, ok := stepProgress[s]
	if !ok {
		return -1
	}
	return p
}

// Valid reports whether s is a known step.
func (s AnalysisStep) Valid() bool {
	_, ok := stepProgress[s]
	return ok
}

// AnalysisTask is the unit of work driven by the orchestrator.
// Status and ProgressPercent never decrease; IntermediateRisks only grows;
// FinalResult is set iff Status is COMPLETED.
type AnalysisTask struct {
	ID                string         `json:"task_id"`
	Subject           Subject        `json:"subject"`
	Status            TaskStatus     `json:"status"`
	CurrentStep       AnalysisStep   `json:"current_step"`
	ProgressPercent   int            `json:"progress_percent"`
	IntermediateRisks []Risk         `json:"intermediate_risks"`
	FinalResult       *FinalAnalysis `json:"final_result,omitempty"`
	FailedStep        AnalysisStep   `json:"failed_step,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewAnalysisTask returns a PENDING task for the subject.
func NewAnalysisTask(id string, subject Subject, now time.Time) *AnalysisTask {
	return &AnalysisTask{
		ID:                id,
		Subject:           subject,
		Status:            TaskPending,
		CurrentStep:       StepQueued,
		ProgressPercent:   0,
		IntermediateRisks: []Risk{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy safe to hand to callers.
func (t *AnalysisTask) Clone() *AnalysisTask {
	if t == nil {
		return nil
	}
	c := *t
	c.IntermediateRisks = append([]Risk{}, t.IntermediateRisks...)
	if t.FinalResult != nil {
		c.FinalResult = t.FinalResult.Clone()
	}
	return &c
}

// StageUpdate is one atomic RUNNING transition: the new step, its progress
// checkpoint and the risks produced by the step.
type StageUpdate struct {
	Step     AnalysisStep
	Progress int
	Risks    []Risk
}

// NewStageUpdate builds an update at the step's fixed checkpoint.
func NewStageUpdate(step AnalysisStep, risks []Risk) StageUpdate {
	return StageUpdate{Step: step, Progress: step.Progress(), Risks: risks}
}

// Apply advances the task in memory. It returns false without modifying the
// task when the update would violate monotonicity or the task is not RUNNING.
func (t *AnalysisTask) Apply(u StageUpdate, now time.Time) bool {
	if t.Status != TaskRunning || u.Progress < t.ProgressPercent || !u.Step.Valid() {
		return false
	}
	t.CurrentStep = u.Step
	t.ProgressPercent = u.Progress
	t.IntermediateRisks = append(t.IntermediateRisks, u.Risks...)
	t.UpdatedAt = now
	return true
}

// Failure describes why a task ended in FAILED.
type Failure struct {
	Step   AnalysisStep
	Reason string
}
