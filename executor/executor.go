package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/guardrail"
	"github.com/avalonlabs/taskrunner/llm"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/rtt"
	"github.com/avalonlabs/taskrunner/task"
	"github.com/avalonlabs/taskrunner/tool"
)

// errCancelled signals that runExecution stopped because tc.Status was
// flipped to Cancelled by another goroutine (registry.Registry.Cancel),
// as opposed to ctx's own deadline or cancellation.
var errCancelled = errors.New("executor: task cancelled")

// Config governs the phased path's retry/confidence/timeout behavior, per
// spec.md §4.3.
type Config struct {
	MinConfidenceThreshold float64
	MaxRetriesPerPhase     int
	TaskTimeout            time.Duration
}

// DefaultConfig returns spec.md §4.3's documented defaults.
func DefaultConfig() Config {
	return Config{MinConfidenceThreshold: 0.7, MaxRetriesPerPhase: 3, TaskTimeout: 300 * time.Second}
}

// Executor runs the Sequential Executor's (C6) phased state machine over a
// task.Context.
type Executor struct {
	adapter    *llm.Adapter
	builder    *prompt.Builder
	guardrails *guardrail.Engine
	tools      *tool.Dispatcher
	snapshots  SnapshotStore
	retry      *rtt.Config
	cfg        Config
	logger     corelog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

func WithConfig(cfg Config) Option            { return func(e *Executor) { e.cfg = cfg } }
func WithRetry(r *rtt.Config) Option          { return func(e *Executor) { e.retry = r } }
func WithSnapshotStore(s SnapshotStore) Option { return func(e *Executor) { e.snapshots = s } }
func WithLogger(l corelog.Logger) Option      { return func(e *Executor) { e.logger = l } }

// New constructs an Executor.
func New(adapter *llm.Adapter, builder *prompt.Builder, guardrails *guardrail.Engine, tools *tool.Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		adapter:    adapter,
		builder:    builder,
		guardrails: guardrails,
		tools:      tools,
		snapshots:  NewMemorySnapshotStore(),
		retry:      rtt.DefaultConfig(),
		cfg:        DefaultConfig(),
		logger:     corelog.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the phased path over tc, per spec.md §4.3's state machine,
// mutating tc in place as each phase and step completes. Cancellation is
// cooperative: checked between phases and between steps, by reading
// tc.Status (flipped by registry.Registry.Cancel from another goroutine)
// alongside ctx's own deadline, per spec.md §5.
func (e *Executor) Run(ctx context.Context, tc *task.Context) error {
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}

	now := time.Now()
	tc.Status = task.StatusRunning
	tc.StartedAt = &now

	understandingResult, err := e.runUnderstanding(ctx, tc)
	if err != nil {
		return e.fail(tc, "Understanding", err)
	}
	if err := e.checkStopped(ctx, tc, "Understanding"); err != nil {
		return err
	}
	understanding := understandingResult.Output

	approachResult, err := e.runApproach(ctx, tc, understanding)
	if err != nil {
		return e.fail(tc, "Approach", err)
	}
	if err := e.checkStopped(ctx, tc, "Approach"); err != nil {
		return err
	}
	approach := approachResult.Output

	planningResult, err := e.runPlanning(ctx, tc, understanding, approach)
	if err != nil {
		return e.fail(tc, "Planning", err)
	}
	planning := planningResult.Output

	tc.Plan = &task.TaskPlan{
		Understanding: understanding.Summary,
		Approach:      approach.Description,
		Complexity:    understanding.Complexity,
		Requirements:  understanding.KeyRequirements,
		Steps:         planning.Steps,
	}
	tc.Steps = planning.Steps

	if err := e.checkStopped(ctx, tc, "Planning"); err != nil {
		skipPendingSteps(tc)
		return err
	}

	if err := e.runExecution(ctx, tc); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return e.finishStopped(tc, true, "Execution")
		case errors.Is(err, errCancelled), errors.Is(err, context.Canceled):
			return e.finishStopped(tc, false, "Execution")
		default:
			return e.fail(tc, "Execution", err)
		}
	}
	if err := e.checkStopped(ctx, tc, "Execution"); err != nil {
		skipPendingSteps(tc)
		return err
	}

	if err := e.runValidation(tc); err != nil {
		return e.fail(tc, "Validation", err)
	}

	completedAt := time.Now()
	tc.CompletedAt = &completedAt
	tc.Status = task.StatusCompleted
	tc.Result = &task.Result{Success: true, Output: approach.Description}
	return nil
}

// checkStopped halts the run at a phase boundary when ctx has timed out or
// been cancelled, or when tc.Status was flipped to Cancelled by a
// cancel_task call observed cooperatively between phases.
func (e *Executor) checkStopped(ctx context.Context, tc *task.Context, atPhase string) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return e.finishStopped(tc, true, atPhase)
	case ctx.Err() != nil, tc.Status == task.StatusCancelled:
		return e.finishStopped(tc, false, atPhase)
	default:
		return nil
	}
}

// finishStopped records the terminal TimedOut/Cancelled state and result on
// tc and returns the corresponding sentinel error.
func (e *Executor) finishStopped(tc *task.Context, timedOut bool, atPhase string) error {
	completedAt := time.Now()
	tc.CompletedAt = &completedAt
	if timedOut {
		tc.Status = task.StatusTimedOut
		tc.Result = &task.Result{Success: false, Error: "task deadline exceeded", AtPhase: atPhase}
		return context.DeadlineExceeded
	}
	tc.Status = task.StatusCancelled
	tc.Result = &task.Result{Success: false, Error: "task cancelled", AtPhase: atPhase}
	return errCancelled
}

func (e *Executor) fail(tc *task.Context, atPhase string, err error) error {
	completedAt := time.Now()
	tc.CompletedAt = &completedAt
	tc.Status = task.StatusFailed
	tc.Result = &task.Result{Success: false, Error: err.Error(), AtPhase: atPhase, Reason: err.Error()}
	return err
}

// callModel issues one LLM call wrapped in the retry policy, mirroring
// planner.Planner.AnalyzeTask's rtt.Retry usage.
func (e *Executor) callModel(ctx context.Context, promptText string) (*llm.Response, error) {
	var resp *llm.Response
	err := rtt.Retry(ctx, e.retry, func() error {
		r, callErr := e.adapter.Complete(ctx, promptText)
		if callErr != nil {
			resp = nil
			return callErr
		}
		resp = r
		return nil
	})
	return resp, err
}

// runPhase implements spec.md §4.3's identical per-phase protocol (build
// prompt, call with backoff, parse, validate, retry while under the
// confidence threshold) generically over each phase's output shape.
func runPhase[T any](ctx context.Context, e *Executor, tc *task.Context, phase Phase, promptPhase prompt.Phase, priorContext string, parse func(string) T, score func(T) Validation) (PhaseResult[T], error) {
	start := time.Now()
	var out T
	var v Validation
	for attempt := 0; attempt <= e.cfg.MaxRetriesPerPhase; attempt++ {
		promptText := e.builder.BuildPhase(promptPhase, tc.Request, priorContext)
		resp, err := e.callModel(ctx, promptText)
		if err != nil {
			return PhaseResult[T]{Phase: phase, Status: StatusFailed, RetryCount: attempt, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()},
				fmt.Errorf("%s phase: %w", phase, err)
		}
		tc.Metrics.ModelCalls++
		out = parse(resp.Content)
		v = score(out)
		if v.Confidence >= e.cfg.MinConfidenceThreshold {
			return PhaseResult[T]{Phase: phase, Status: StatusSuccess, Output: out, Validation: v, RetryCount: attempt, DurationMs: time.Since(start).Milliseconds()}, nil
		}
		e.logger.Warn(string(phase)+" phase below confidence threshold, retrying", map[string]interface{}{
			"task_id": tc.TaskID, "attempt": attempt, "confidence": v.Confidence,
		})
	}
	err := fmt.Errorf("%s phase failed to reach confidence threshold after %d retries: %v", phase, e.cfg.MaxRetriesPerPhase, v.Messages)
	return PhaseResult[T]{Phase: phase, Status: StatusFailed, Output: out, Validation: v, RetryCount: e.cfg.MaxRetriesPerPhase, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}, err
}

func (e *Executor) runUnderstanding(ctx context.Context, tc *task.Context) (PhaseResult[UnderstandingOutput], error) {
	return runPhase(ctx, e, tc, PhaseUnderstanding, prompt.PhaseUnderstanding, "", parseUnderstanding, confidenceForUnderstanding)
}

func (e *Executor) runApproach(ctx context.Context, tc *task.Context, understanding UnderstandingOutput) (PhaseResult[ApproachOutput], error) {
	return runPhase(ctx, e, tc, PhaseApproach, prompt.PhaseApproach, understanding.Summary, parseApproach, confidenceForApproach)
}

func (e *Executor) runPlanning(ctx context.Context, tc *task.Context, understanding UnderstandingOutput, approach ApproachOutput) (PhaseResult[PlanningOutput], error) {
	priorContext := understanding.Summary + "\n\n" + approach.Description
	return runPhase(ctx, e, tc, PhasePlanning, prompt.PhasePlanning, priorContext, parsePlanning, confidenceForPlanning)
}
