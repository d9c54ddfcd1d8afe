package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/task"
)

// DefaultConfirmationTimeout bounds how long the Engine waits on a
// ConfirmationResponder before applying a request's DefaultAction.
const DefaultConfirmationTimeout = 5 * time.Minute

// ConfirmationResponder resolves a ConfirmationRequest to a response, e.g. by
// blocking on a CLI prompt, an HTTP callback, or a test stub.
type ConfirmationResponder interface {
	Resolve(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)
}

// ResponderFunc adapts a function to a ConfirmationResponder.
type ResponderFunc func(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)

// Resolve calls f.
func (f ResponderFunc) Resolve(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
	return f(ctx, req)
}

// Engine is the Guardrail Engine (C7): it classifies a pending operation,
// decides whether to interrupt for human confirmation, resolves that
// confirmation, and records the outcome.
type Engine struct {
	classifier Classifier
	policy     ConfirmationPolicy
	responder  ConfirmationResponder
	history    HistoryStore
	timeout    time.Duration
	logger     corelog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the default GuardPolicy.
func WithPolicy(p ConfirmationPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithResponder sets the ConfirmationResponder used to resolve interrupts.
func WithResponder(r ConfirmationResponder) Option { return func(e *Engine) { e.responder = r } }

// WithHistoryStore overrides the default in-memory HistoryStore.
func WithHistoryStore(s HistoryStore) Option { return func(e *Engine) { e.history = s } }

// WithTimeout overrides DefaultConfirmationTimeout.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithLogger attaches a logger.
func WithLogger(l corelog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New constructs an Engine. Without WithResponder, any guard requiring
// confirmation is resolved via its DefaultAction — equivalent to running
// unattended.
func New(classifier Classifier, opts ...Option) *Engine {
	e := &Engine{
		classifier: classifier,
		policy:     NewGuardPolicy(),
		history:    NewMemoryHistoryStore(),
		timeout:    DefaultConfirmationTimeout,
		logger:     corelog.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check classifies a pending operation and, if it requires confirmation,
// resolves that confirmation through the configured Responder. Returns the
// guard (for attaching to the ExecutionStep) and the resolution, or a
// ForbiddenError if the operation type is blocked outright.
func (e *Engine) Check(ctx context.Context, taskID string, stepNumber int, op PendingOperation) (*task.OperationGuard, *ConfirmationResponse, error) {
	guard, err := e.classifier.Classify(op)
	if err != nil {
		return nil, nil, err
	}

	if !e.policy.RequiresConfirmation(*guard) {
		return guard, nil, nil
	}

	req := NewConfirmationRequest(taskID, stepNumber, *guard, e.timeout)

	var resp ConfirmationResponse
	if e.responder == nil {
		resp = ConfirmationResponse{Action: req.DefaultAction, AppliedAt: time.Now(), WasDefault: true, Reason: "no responder configured"}
	} else {
		resolveCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err = e.responder.Resolve(resolveCtx, req)
		cancel()
		if err != nil {
			// spec.md §4.5: a confirmation timeout always resolves to Skip,
			// unconditionally — distinct from req.DefaultAction, which is
			// the headless/no-responder policy's choice (and also what any
			// other responder error falls back to).
			if errors.Is(err, context.DeadlineExceeded) {
				resp = ConfirmationResponse{Action: ActionSkip, AppliedAt: time.Now(), WasDefault: true, Reason: fmt.Sprintf("confirmation timed out after %s", e.timeout)}
			} else {
				resp = ConfirmationResponse{Action: req.DefaultAction, AppliedAt: time.Now(), WasDefault: true, Reason: fmt.Sprintf("responder error: %v", err)}
			}
		}
	}

	e.logger.Info("guardrail confirmation resolved", map[string]interface{}{
		"task_id":     taskID,
		"step_number": stepNumber,
		"risk":        guard.RiskLevel.String(),
		"action":      string(resp.Action),
		"was_default": resp.WasDefault,
	})

	if recErr := e.history.Record(ctx, HistoryEntry{Request: req, Response: resp}); recErr != nil {
		e.logger.Warn("failed to record guardrail history", map[string]interface{}{"error": recErr.Error()})
	}

	return guard, &resp, nil
}

// History returns the recorded confirmation entries for a task.
func (e *Engine) History(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	return e.history.ListForTask(ctx, taskID)
}
