// Package task defines the data model shared by the Planner, Sequential
// Executor, Guardrail Engine, and Task Registry: TaskContext, TaskPlan,
// ExecutionStep, and OperationGuard, per spec.md §3.
package task

import "time"

// Priority is a task's scheduling priority. It does not currently affect
// admission ordering (spec.md §5 waives fair-FIFO), but is carried through
// for future use and surfaced in status responses.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityNormal   Priority = "Normal"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Status is a task's lifecycle state. Transitions are monotonic except that
// Cancelled may interrupt a Running task.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimedOut  Status = "TimedOut"
)

// Complexity is the Planner's/Understanding-phase's estimate of task size.
type Complexity string

const (
	ComplexitySimple   Complexity = "Simple"
	ComplexityModerate Complexity = "Moderate"
	ComplexityComplex  Complexity = "Complex"
)

// Metrics are the running counters attached to a TaskContext.
type Metrics struct {
	TotalMs       int64
	ModelMs       int64
	ToolMs        int64
	StepsExecuted int
	ToolCalls     int
	ModelCalls    int
	TokensUsed    int
}

// TaskPlan is the Planner's (C5) single-shot output, or the aggregated
// result of the phased path's Understanding/Approach/Planning phases.
type TaskPlan struct {
	Understanding  string
	Approach       string
	Complexity     Complexity
	EstimatedSteps *int
	Requirements   []string
	Steps          []ExecutionStep
}

// StepType classifies an ExecutionStep.
type StepType string

const (
	StepAnalysis     StepType = "Analysis"
	StepPlanning     StepType = "Planning"
	StepToolUse      StepType = "ToolUse"
	StepExecution    StepType = "Execution"
	StepVerification StepType = "Verification"
	StepCompletion   StepType = "Completion"
)

// StepStatus is an ExecutionStep's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepRunning   StepStatus = "Running"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
)

// ExecutionStep is one unit of work within a task's plan.
type ExecutionStep struct {
	StepNumber   int
	StepType     StepType
	Description  string
	Status       StepStatus
	Output       string
	Error        string
	DependsOn    []int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMs   int64

	OperationGuard       *OperationGuard
	CreateSnapshotBefore bool
	SnapshotID           string
	AllowFailure         bool

	// ToolName/ToolArgs are consulted by the Sequential Executor to dispatch
	// this step via the Tool Dispatcher (C1); empty ToolName means the step
	// has no side effect and is recorded without dispatch.
	ToolName string
	ToolArgs map[string]interface{}
}

// Result is the terminal outcome of a task.
type Result struct {
	Success bool
	Output  string
	Error   string
	AtPhase string
	Reason  string
}

// Context is one in-flight (or completed) task. Exactly one writer (the
// task's own executor) mutates it at a time; readers may observe at any
// time per spec.md §3's invariant.
type Context struct {
	TaskID   string
	Request  string
	Priority Priority
	Status   Status

	Plan  *TaskPlan
	Steps []ExecutionStep

	Result *Result

	Metrics Metrics

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Metadata map[string]interface{}
}
