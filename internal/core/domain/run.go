package domain

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Pipeline Stages
// ============================================================================

// Stage is the position of a pipeline run in its state machine.
type Stage string

const (
	StageTriggered      Stage = "TRIGGERED"
	StageExtracting     Stage = "EXTRACTING"
	StageTraining       Stage = "TRAINING"
	StageEvaluating     Stage = "EVALUATING"
	StagePublishing     Stage = "PUBLISHING"
	StageDeploying      Stage = "DEPLOYING"
	StageHealthChecking Stage = "HEALTH_CHECKING"
	StageSucceeded      Stage = "SUCCEEDED"
	StageFailed         Stage = "FAILED"
	StageRolledBack     Stage = "ROLLED_BACK"
)

// stageOrder is the forward progression of a run. Failure exits and the
// rollback transition are handled separately in CanTransition.
var stageOrder = []Stage{
	StageTriggered,
	StageExtracting,
	StageTraining,
	StageEvaluating,
	StagePublishing,
	StageDeploying,
	StageHealthChecking,
	StageSucceeded,
}

func stageIndex(s Stage) int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether a run in this stage is finished.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageRolledBack
}

// IsValid checks if the stage is known.
func (s Stage) IsValid() bool {
	return stageIndex(s) >= 0 || s == StageFailed || s == StageRolledBack
}

// CanTransition reports whether moving from s to next is legal: one step
// forward along the pipeline, any non-terminal stage to FAILED, or the
// rollback exit from DEPLOYING / HEALTH_CHECKING.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	if next == StageRolledBack {
		return s == StageDeploying || s == StageHealthChecking
	}
	i, j := stageIndex(s), stageIndex(next)
	return i >= 0 && j == i+1
}

// ============================================================================
// Stage Results
// ============================================================================

// StageOutcome is the recorded result of one stage of a run.
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "SUCCESS"
	OutcomeFailure StageOutcome = "FAILURE"
	OutcomeSkipped StageOutcome = "SKIPPED"
)

// StageResult is the audit record of a single stage execution.
type StageResult struct {
	Stage     Stage        `json:"stage"`
	Outcome   StageOutcome `json:"outcome"`
	Error     string       `json:"error,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

// ============================================================================
// Pipeline Run
// ============================================================================

// RunTrigger records what started a run: a CI push event or a manual call.
type RunTrigger struct {
	Source string `json:"source"`
	Commit string `json:"commit,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

const (
	TriggerSourcePush   = "push"
	TriggerSourceManual = "manual"
)

// PipelineRun is one end-to-end execution of the training pipeline. The
// orchestrator owns it exclusively; artifacts are referenced by version,
// never embedded.
type PipelineRun struct {
	ID              uuid.UUID     `json:"id"`
	Stage           Stage         `json:"stage"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	Trigger         RunTrigger    `json:"trigger"`
	Stages          []StageResult `json:"stages"`
	ArtifactVersion *int          `json:"artifact_version,omitempty"`
	Metric          *float64      `json:"metric,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// NewPipelineRun creates a run in TRIGGERED.
func NewPipelineRun(trigger RunTrigger) *PipelineRun {
	if trigger.Source == "" {
		trigger.Source = TriggerSourceManual
	}
	return &PipelineRun{
		ID:        uuid.New(),
		Stage:     StageTriggered,
		StartedAt: time.Now().UTC(),
		Trigger:   trigger,
	}
}

// Advance moves the run one stage forward. Transitions are monotonic; an
// illegal move returns ErrInvalidTransition and leaves the run untouched.
func (r *PipelineRun) Advance(next Stage) error {
	if !r.Stage.CanTransition(next) {
		return ErrInvalidTransition
	}
	r.Stage = next
	if next.Terminal() {
		r.finish()
	}
	return nil
}

// Fail moves the run to FAILED with a terminal reason.
func (r *PipelineRun) Fail(reason string) {
	if r.Stage.Terminal() {
		return
	}
	r.Stage = StageFailed
	r.Reason = reason
	r.finish()
}

// RollBack moves the run to ROLLED_BACK with a terminal reason. Legal only
// from DEPLOYING and HEALTH_CHECKING.
func (r *PipelineRun) RollBack(reason string) error {
	if !r.Stage.CanTransition(StageRolledBack) {
		return ErrInvalidTransition
	}
	r.Stage = StageRolledBack
	r.Reason = reason
	r.finish()
	return nil
}

// Succeed moves the run to SUCCEEDED.
func (r *PipelineRun) Succeed() error {
	return r.Advance(StageSucceeded)
}

// RecordStage appends one stage result to the audit trail.
func (r *PipelineRun) RecordStage(res StageResult) {
	r.Stages = append(r.Stages, res)
}

// Terminal reports whether the run is finished.
func (r *PipelineRun) Terminal() bool {
	return r.Stage.Terminal()
}

// SetArtifact records the artifact version a run produced.
func (r *PipelineRun) SetArtifact(version int) {
	v := version
	r.ArtifactVersion = &v
}

// SetMetric records the holdout metric a run measured.
func (r *PipelineRun) SetMetric(metric float64) {
	m := metric
	r.Metric = &m
}

func (r *PipelineRun) finish() {
	now := time.Now().UTC()
	r.EndedAt = &now
}
