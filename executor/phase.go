// Package executor implements the Sequential Executor (C6): the phased
// Understanding -> Approach -> Planning -> Execution -> Validation state
// machine of spec.md §4.3. Per-phase LLM protocol and confidence-gated retry
// follow the Planner's dual-form label parsing
// (orchestration/executor.go's stepOutputTemplatePattern convention);
// dependency-ordered step execution adapts orchestration/workflow_dag.go's
// WorkflowDAG from string workflow-node ids to task.ExecutionStep numbers.
package executor

import (
	"time"

	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/task"
)

// Phase identifies one state in the Sequential Executor's state machine.
type Phase string

const (
	PhaseUnderstanding Phase = "Understanding"
	PhaseApproach      Phase = "Approach"
	PhasePlanning      Phase = "Planning"
	PhaseExecution     Phase = "Execution"
	PhaseValidation    Phase = "Validation"
)

// Status is a single phase attempt's outcome.
type Status string

const (
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusNeedsRetry Status = "NeedsRetry"
)

// Validation is a phase attempt's confidence assessment, per spec.md §4.3
// step 4.
type Validation struct {
	Passed      bool
	Confidence  float64
	Messages    []string
	Warnings    []string
	Suggestions []string
}

// PhaseResult is the generic per-phase outcome record from spec.md §4.3:
// `{phase, status, output?, duration_ms, validation, retry_count, error?}`.
type PhaseResult[T any] struct {
	Phase      Phase
	Status     Status
	Output     T
	DurationMs int64
	Validation Validation
	RetryCount int
	Error      string
}

// UnderstandingOutput is the Understanding phase's parsed shape.
type UnderstandingOutput struct {
	Summary         string
	KeyRequirements []string
	TaskType        prompt.TaskType
	Complexity      task.Complexity
	Risks           []string
	Clarifications  []string
}

// ApproachOutput is the Approach phase's parsed shape.
type ApproachOutput struct {
	Description      string
	TechStack        []string
	Architecture     string
	Decisions        []string
	ExpectedOutcomes []string
	Alternatives     []string
}

// PlanningOutput is the Planning phase's parsed shape.
type PlanningOutput struct {
	Steps             []task.ExecutionStep
	EstimatedDuration time.Duration
	Resources         []string
	Milestones        []string
	SuccessCriteria   []string
}
