package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/executor"
	"github.com/avalonlabs/taskrunner/metrics"
	"github.com/avalonlabs/taskrunner/planner"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/registry"
	"github.com/avalonlabs/taskrunner/task"
	"github.com/avalonlabs/taskrunner/tool"
)

// ExecutionMode picks which component drives a task to completion, per
// spec.md's contrast between the Planner's single-shot path (C5) and the
// Sequential Executor's phased path (C6).
type ExecutionMode string

const (
	ModeSingleShot ExecutionMode = "single-shot"
	ModePhased     ExecutionMode = "phased"
)

// BatchMode selects execute_batch's fan-out strategy, spec.md §4.1.
type BatchMode string

const (
	BatchParallel   BatchMode = "Parallel"
	BatchSequential BatchMode = "Sequential"
)

// ExecuteRequest is execute_task's input. TaskID is optional; a server
// generated UUID is assigned when absent.
type ExecuteRequest struct {
	TaskID   string
	Request  string
	Priority task.Priority
	Mode     ExecutionMode
}

// BatchRequest is execute_batch's input, spec.md §4.1.
type BatchRequest struct {
	Requests        []ExecuteRequest
	Mode            BatchMode
	ContinueOnError bool
}

// BatchStatistics summarizes an execute_batch call.
type BatchStatistics struct {
	Total      int
	Successful int
	Failed     int
	TotalMs    int64
	AverageMs  float64
}

// BatchResponse is execute_batch's output: per-task responses in input
// order, plus aggregate statistics.
type BatchResponse struct {
	Responses  []*task.Context
	Statistics BatchStatistics
}

// Status is get_status's output: service health and running tallies.
type Status struct {
	Healthy        bool
	Uptime         time.Duration
	ActiveTasks    int
	CompletedTasks int
	FailedTasks    int
	AvailableTools []string
}

// Config governs the facade's admission, default execution mode, and task
// timeout, mirroring corecfg.ServiceConfig/ExecutionConfig's shape without
// importing it directly (corecfg is consumed by cmd/ to build this Config).
type Config struct {
	MaxConcurrentTasks int
	DefaultMode        ExecutionMode
	DefaultTaskTimeout time.Duration
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentTasks: 10, DefaultMode: ModePhased, DefaultTaskTimeout: 300 * time.Second}
}

// Facade is the Service Facade (C9): the single entry point composing the
// Task Registry, Planner, Sequential Executor, Tool Dispatcher, and Metrics
// Collector behind spec.md §4.1's six operations.
type Facade struct {
	cfg Config

	registry *registry.Registry
	planner  *planner.Planner
	executor *executor.Executor
	tools    *tool.Dispatcher
	metrics  *metrics.Collector
	logger   corelog.Logger

	startedAt time.Time

	mu           sync.RWMutex
	shuttingDown bool
}

// Option configures a Facade.
type Option func(*Facade)

func WithLogger(l corelog.Logger) Option { return func(f *Facade) { f.logger = l } }
func WithMetrics(m *metrics.Collector) Option { return func(f *Facade) { f.metrics = m } }

// New constructs a Facade. planner may be nil if only phased execution is
// used; the reverse is also true.
func New(cfg Config, reg *registry.Registry, p *planner.Planner, e *executor.Executor, tools *tool.Dispatcher, opts ...Option) *Facade {
	f := &Facade{
		cfg:       cfg,
		registry:  reg,
		planner:   p,
		executor:  e,
		tools:     tools,
		metrics:   metrics.New(),
		logger:    corelog.NoOpLogger{},
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start marks the facade ready to admit tasks. Present for symmetry with
// Shutdown and so httpapi can treat the facade like core/tool.go's
// BaseTool lifecycle.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shuttingDown = false
	f.startedAt = time.Now()
	return nil
}

// Shutdown stops admitting new tasks. In-flight tasks are left to finish;
// callers that need a hard deadline should race this against their own
// ctx.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.shuttingDown = true
	f.mu.Unlock()
	return nil
}

func (f *Facade) isShuttingDown() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shuttingDown
}

// ExecuteTask admits, runs, and returns the terminal task.Context for one
// request, per spec.md §4.1.
func (f *Facade) ExecuteTask(ctx context.Context, req ExecuteRequest) (*task.Context, error) {
	if f.isShuttingDown() {
		return nil, ErrServiceUnavailable
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.Priority == "" {
		req.Priority = task.PriorityNormal
	}
	mode := req.Mode
	if mode == "" {
		mode = f.cfg.DefaultMode
	}

	tc := &task.Context{
		TaskID:    req.TaskID,
		Request:   req.Request,
		Priority:  req.Priority,
		Status:    task.StatusQueued,
		CreatedAt: time.Now(),
		Metadata:  map[string]interface{}{},
	}
	if err := f.registry.Insert(tc); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: task_id %q already exists", ErrValidation, req.TaskID)
		}
		return nil, err
	}

	if err := f.registry.Acquire(ctx); err != nil {
		f.registry.Delete(tc.TaskID)
		return nil, fmt.Errorf("admission: %w", err)
	}
	defer f.registry.Release()

	if f.cfg.DefaultTaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.DefaultTaskTimeout)
		defer cancel()
	}

	f.metrics.TaskStarted()

	var runErr error
	switch mode {
	case ModeSingleShot:
		runErr = f.runSingleShot(ctx, tc)
	default:
		runErr = f.executor.Run(ctx, tc)
	}

	if tc.Status == task.StatusCompleted {
		f.metrics.TaskCompleted()
	} else {
		f.metrics.TaskFailed()
	}

	f.logger.Info("task finished", map[string]interface{}{
		"task_id": tc.TaskID, "status": string(tc.Status), "mode": string(mode),
	})

	return tc, runErr
}

// runSingleShot drives tc through the Planner's one-shot analyze-then-done
// path: no step execution, matching spec.md §4.2's contract (plan only).
func (f *Facade) runSingleShot(ctx context.Context, tc *task.Context) error {
	now := time.Now()
	tc.Status = task.StatusRunning
	tc.StartedAt = &now

	taskType := prompt.InferTaskType(tc.Request)
	plan, err := f.planner.AnalyzeTask(ctx, tc.Request, taskType)
	if err != nil {
		completedAt := time.Now()
		tc.CompletedAt = &completedAt
		tc.Status = task.StatusFailed
		tc.Result = &task.Result{Success: false, Error: err.Error(), AtPhase: "Planning"}
		return err
	}
	tc.Plan = plan
	tc.Steps = plan.Steps

	completedAt := time.Now()
	tc.CompletedAt = &completedAt
	tc.Status = task.StatusCompleted
	tc.Result = &task.Result{Success: true, Output: plan.Understanding}
	return nil
}

// ExecuteBatch fans out or serializes a batch of requests, per spec.md
// §4.1's ordering rules: parallel mode preserves input order in the
// output regardless of completion order; sequential mode short-circuits
// on first failure unless ContinueOnError.
func (f *Facade) ExecuteBatch(ctx context.Context, batch BatchRequest) (*BatchResponse, error) {
	start := time.Now()
	responses := make([]*task.Context, len(batch.Requests))

	if batch.Mode == BatchSequential {
		for i, req := range batch.Requests {
			tc, err := f.ExecuteTask(ctx, req)
			responses[i] = tc
			if err != nil && !batch.ContinueOnError {
				break
			}
		}
	} else {
		var wg sync.WaitGroup
		for i, req := range batch.Requests {
			wg.Add(1)
			go func(i int, req ExecuteRequest) {
				defer wg.Done()
				tc, _ := f.ExecuteTask(ctx, req)
				responses[i] = tc
			}(i, req)
		}
		wg.Wait()
	}

	stats := BatchStatistics{Total: len(batch.Requests)}
	for _, tc := range responses {
		if tc == nil {
			stats.Failed++
			continue
		}
		if tc.Status == task.StatusCompleted {
			stats.Successful++
		} else {
			stats.Failed++
		}
		stats.TotalMs += tc.Metrics.TotalMs
	}
	stats.TotalMs = time.Since(start).Milliseconds()
	if stats.Total > 0 {
		stats.AverageMs = float64(stats.TotalMs) / float64(stats.Total)
	}

	return &BatchResponse{Responses: responses, Statistics: stats}, nil
}

// GetTaskStatus returns the live or terminal task.Context for taskID.
func (f *Facade) GetTaskStatus(taskID string) (*task.Context, error) {
	tc, err := f.registry.Get(taskID)
	if err != nil {
		return nil, ErrNotFound
	}
	return tc, nil
}

// CancelTask flips a running task's status to Cancelled, per spec.md
// §4.1's cooperative-cancellation contract.
func (f *Facade) CancelTask(taskID string) error {
	if err := f.registry.Cancel(taskID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrNotFound
		}
		if errors.Is(err, registry.ErrAlreadyTerminal) {
			return fmt.Errorf("%w: %v", ErrAlreadyTerminal, err)
		}
		return err
	}
	return nil
}

// GetStatus reports service health and running tallies for get_status.
func (f *Facade) GetStatus() Status {
	counts := f.registry.Counts()
	var tools []string
	if f.tools != nil {
		tools = f.tools.List()
	}
	return Status{
		Healthy:        !f.isShuttingDown(),
		Uptime:         time.Since(f.startedAt),
		ActiveTasks:    counts[task.StatusRunning] + counts[task.StatusQueued],
		CompletedTasks: counts[task.StatusCompleted],
		FailedTasks:    counts[task.StatusFailed] + counts[task.StatusCancelled] + counts[task.StatusTimedOut],
		AvailableTools: tools,
	}
}

// GetMetrics returns the Metrics Collector's current snapshot for
// get_metrics.
func (f *Facade) GetMetrics() metrics.Snapshot {
	return f.metrics.Snapshot()
}
