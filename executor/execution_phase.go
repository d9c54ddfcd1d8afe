package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/avalonlabs/taskrunner/guardrail"
	"github.com/avalonlabs/taskrunner/task"
)

// runExecution iterates tc.Steps honoring inter-step dependencies (a
// topological wait via stepDAG), per spec.md §4.3's Execution phase.
func (e *Executor) runExecution(ctx context.Context, tc *task.Context) error {
	dag := newStepDAG()
	for i := range tc.Steps {
		dag.addNode(tc.Steps[i].StepNumber, tc.Steps[i].DependsOn)
	}
	if err := dag.validate(); err != nil {
		return err
	}

	byNumber := make(map[int]*task.ExecutionStep, len(tc.Steps))
	for i := range tc.Steps {
		byNumber[tc.Steps[i].StepNumber] = &tc.Steps[i]
	}

	for !dag.isComplete() {
		if err := stopErr(ctx, tc); err != nil {
			skipPendingSteps(tc)
			return err
		}
		ready := dag.readyNodes()
		if len(ready) == 0 {
			// Nothing ready and not complete: every remaining step is
			// blocked on a failed dependency that wasn't cascaded (shouldn't
			// happen given markFailed's cascade), so stop to avoid spinning.
			break
		}
		for _, stepNum := range ready {
			if err := stopErr(ctx, tc); err != nil {
				skipPendingSteps(tc)
				return err
			}
			step := byNumber[stepNum]
			dag.markRunning(stepNum)
			if err := e.runStep(ctx, tc, step); err != nil {
				if step.AllowFailure {
					dag.markFailed(stepNum, false)
					continue
				}
				e.rollback(ctx, tc, step)
				dag.markFailed(stepNum, true)
				return fmt.Errorf("step %d failed: %w", stepNum, err)
			}
			dag.markCompleted(stepNum)
		}
	}

	if dag.hasFailures() {
		return fmt.Errorf("execution phase completed with one or more allowed step failures")
	}
	return nil
}

// stopErr reports the reason runExecution's step loop should halt between
// steps: ctx's own deadline/cancellation, or tc.Status having been flipped
// to Cancelled by a concurrent registry.Registry.Cancel call. Returns nil
// when the loop should keep going.
func stopErr(ctx context.Context, tc *task.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tc.Status == task.StatusCancelled {
		return errCancelled
	}
	return nil
}

// skipPendingSteps marks every not-yet-terminal step Skipped, per spec.md
// §5's "cancelled task's in-progress step transitions to Skipped" — the
// step that would have run next, and everything after it, when cancellation
// interrupts the Execution phase between steps.
func skipPendingSteps(tc *task.Context) {
	for i := range tc.Steps {
		s := &tc.Steps[i]
		if s.Status == task.StepPending || s.Status == task.StepRunning {
			s.Status = task.StepSkipped
		}
	}
}

// runStep runs the Guardrail Engine's confirmation protocol (if the step has
// side effects), optionally captures a snapshot, dispatches via the Tool
// Dispatcher, and records the outcome on step, per spec.md §4.3's
// Execution-phase per-step protocol.
func (e *Executor) runStep(ctx context.Context, tc *task.Context, step *task.ExecutionStep) error {
	start := time.Now()
	step.StartedAt = &start
	step.Status = task.StepRunning

	if step.ToolName != "" && e.guardrails != nil {
		op := guardrail.PendingOperation{
			OperationType: inferOperationType(step),
			Reversible:    true,
		}
		if path, ok := step.ToolArgs["path"].(string); ok {
			op.Targets = []task.Target{{ResourceType: "file", Path: path}}
		}
		if cmd, ok := step.ToolArgs["command"].(string); ok {
			op.CommandString = cmd
		}

		guard, resp, err := e.guardrails.Check(ctx, tc.TaskID, step.StepNumber, op)
		if err != nil {
			return e.finishStepFailure(step, start, err)
		}
		step.OperationGuard = guard

		if resp != nil {
			switch resp.Action {
			case guardrail.ActionAbort:
				return e.finishStepFailure(step, start, fmt.Errorf("step aborted by guardrail confirmation"))
			case guardrail.ActionSkip:
				step.Status = task.StepSkipped
				return nil
			case guardrail.ActionModify:
				if resp.ModifiedArg != nil {
					step.ToolArgs = resp.ModifiedArg
				}
			}
		}

		if step.CreateSnapshotBefore && e.snapshots != nil {
			if path, ok := step.ToolArgs["path"].(string); ok {
				snapID, snapErr := e.snapshots.Create(ctx, path)
				if snapErr != nil {
					return e.finishStepFailure(step, start, fmt.Errorf("snapshot capture failed: %w", snapErr))
				}
				step.SnapshotID = snapID
			}
		}
	}

	if step.ToolName == "" {
		step.Status = task.StepCompleted
		finish(step, start)
		return nil
	}

	result, err := e.tools.Execute(ctx, step.ToolName, step.ToolArgs)
	tc.Metrics.ToolCalls++
	if err != nil {
		return e.finishStepFailure(step, start, err)
	}
	step.Output = fmt.Sprintf("%v", result)
	step.Status = task.StepCompleted
	finish(step, start)
	tc.Metrics.StepsExecuted++
	return nil
}

func (e *Executor) finishStepFailure(step *task.ExecutionStep, start time.Time, err error) error {
	step.Status = task.StepFailed
	step.Error = err.Error()
	finish(step, start)
	return err
}

func finish(step *task.ExecutionStep, start time.Time) {
	now := time.Now()
	step.CompletedAt = &now
	step.DurationMs = now.Sub(start).Milliseconds()
}

// rollback walks step's RollbackPlan in reverse, per spec.md §4.3 step 5,
// restoring each snapshot until the plan's window expires or all steps run.
func (e *Executor) rollback(ctx context.Context, tc *task.Context, step *task.ExecutionStep) {
	if step.OperationGuard == nil || step.OperationGuard.RollbackPlan == nil {
		return
	}
	plan := step.OperationGuard.RollbackPlan
	if time.Now().After(plan.ValidUntil) {
		e.logger.Warn("rollback window expired, skipping", map[string]interface{}{"task_id": tc.TaskID, "step": step.StepNumber})
		return
	}
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		rs := plan.Steps[i]
		if rs.SnapshotID == "" || e.snapshots == nil {
			continue
		}
		if err := e.snapshots.Restore(ctx, rs.SnapshotID, rs.Path); err != nil {
			e.logger.Error("rollback step failed", map[string]interface{}{
				"task_id": tc.TaskID, "step": step.StepNumber, "path": rs.Path, "error": err.Error(),
			})
		}
	}
}

// inferOperationType derives an OperationType from a step's tool name,
// generalizing the Tool Dispatcher's four built-ins into the Guardrail
// Engine's operation-type vocabulary.
func inferOperationType(step *task.ExecutionStep) task.OperationType {
	switch step.ToolName {
	case "read_file", "list_files":
		return task.OpFileRead
	case "write_file":
		if step.CreateSnapshotBefore {
			return task.OpFileModify
		}
		return task.OpFileCreate
	case "run_command":
		return task.OpCommandWrite
	default:
		return task.OpCommandWrite
	}
}

// runValidation aggregates per-step outcomes into an overall score, per
// spec.md §4.3's Validation phase.
func (e *Executor) runValidation(tc *task.Context) error {
	total := 0
	completed := 0
	for _, s := range tc.Steps {
		if s.Status == task.StepSkipped {
			continue
		}
		total++
		if s.Status == task.StepCompleted {
			completed++
		}
	}
	if total == 0 {
		return nil
	}
	score := float64(completed) / float64(total)
	if score < e.cfg.MinConfidenceThreshold {
		return fmt.Errorf("validation score %.2f below threshold %.2f (%d/%d steps completed)", score, e.cfg.MinConfidenceThreshold, completed, total)
	}
	return nil
}
