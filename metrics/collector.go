// Package metrics implements the Metrics Collector (C10): the running
// counters behind the Service Facade's get_metrics operation, per
// spec.md §3/§4.1 and SPEC_FULL.md §3's MetricsSnapshot.
//
// Collector satisfies MetricsRegistry's Counter/Gauge/Histogram/
// EmitWithContext/GetBaggage vocabulary, carried over from the teacher's
// core/interfaces.go so a collaborator package could register its own
// sink the same way the teacher's telemetry module registers itself via
// core.SetMetricsRegistry — but, per spec.md §1's non-goals, Collector keeps
// an in-memory atomic snapshot rather than the teacher's full Prometheus/
// OTel pipeline (orchestration/hitl_metrics.go, telemetry/metrics.go).
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry is the registration vocabulary a metrics sink must
// satisfy, carried over unchanged from the teacher's core.MetricsRegistry
// (core/interfaces.go) now that nothing else in the tree needs the rest of
// that package.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
	GetBaggage(ctx context.Context) map[string]string
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
}

var _ MetricsRegistry = (*Collector)(nil)

// Well-known counter names emitted by the registry/executor/service layers,
// mirroring orchestration/hitl_metrics.go's naming convention of
// dotted.metric.names.
const (
	MetricTaskStarted    = "task.started"
	MetricTaskCompleted  = "task.completed"
	MetricTaskFailed     = "task.failed"
	MetricToolCall       = "tool.call"
	MetricModelCall      = "model.call"
	MetricModelDuration  = "model.duration_ms"
	MetricToolDuration   = "tool.duration_ms"
)

// Collector accumulates the counters behind MetricsSnapshot. All fields are
// updated via atomics or a narrow mutex so concurrent tasks can record
// metrics without contending on a single lock.
type Collector struct {
	startedAt time.Time

	tasksTotal     int64
	tasksActive    int64
	tasksCompleted int64
	tasksFailed    int64

	modelCallCount int64
	totalModelMs   int64
	totalToolMs    int64

	mu             sync.Mutex
	toolCallCounts map[string]int64
}

// New constructs a Collector with its uptime clock started now.
func New() *Collector {
	return &Collector{
		startedAt:      time.Now(),
		toolCallCounts: make(map[string]int64),
	}
}

// Counter implements MetricsRegistry. name selects which internal
// counter to increment; unrecognized names are dropped, mirroring the
// teacher's tolerant telemetry.Counter behavior when a sink isn't wired.
func (c *Collector) Counter(name string, labels ...string) {
	switch name {
	case MetricTaskStarted:
		atomic.AddInt64(&c.tasksTotal, 1)
		atomic.AddInt64(&c.tasksActive, 1)
	case MetricTaskCompleted:
		atomic.AddInt64(&c.tasksActive, -1)
		atomic.AddInt64(&c.tasksCompleted, 1)
	case MetricTaskFailed:
		atomic.AddInt64(&c.tasksActive, -1)
		atomic.AddInt64(&c.tasksFailed, 1)
	case MetricModelCall:
		atomic.AddInt64(&c.modelCallCount, 1)
	case MetricToolCall:
		toolName := labelValue(labels, "tool")
		c.mu.Lock()
		c.toolCallCounts[toolName]++
		c.mu.Unlock()
	}
}

// Gauge implements MetricsRegistry. Collector has no point-in-time
// gauges of its own yet; present so Collector satisfies the interface
// without routing gauge emissions anywhere.
func (c *Collector) Gauge(name string, value float64, labels ...string) {}

// Histogram implements MetricsRegistry, folding model/tool call
// durations into the running millisecond totals behind MetricsSnapshot.
func (c *Collector) Histogram(name string, value float64, labels ...string) {
	switch name {
	case MetricModelDuration:
		atomic.AddInt64(&c.totalModelMs, int64(value))
	case MetricToolDuration:
		atomic.AddInt64(&c.totalToolMs, int64(value))
	}
}

// EmitWithContext implements MetricsRegistry's generic emission path,
// dispatching to Histogram since every current metric here is a running
// total rather than a one-shot counter increment.
func (c *Collector) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	c.Histogram(name, value, labels...)
}

// GetBaggage implements MetricsRegistry. Collector does not correlate
// against distributed trace baggage, so it always returns an empty map.
func (c *Collector) GetBaggage(ctx context.Context) map[string]string {
	return map[string]string{}
}

// RecordToolCall is a typed convenience wrapper over Counter for the
// executor/tool dispatch path, avoiding string-label construction at call
// sites.
func (c *Collector) RecordToolCall(toolName string) {
	c.Counter(MetricToolCall, "tool", toolName)
}

// RecordModelCall is a typed convenience wrapper over Counter+Histogram for
// the LLM Adapter call path.
func (c *Collector) RecordModelCall(durationMs int64) {
	c.Counter(MetricModelCall)
	c.Histogram(MetricModelDuration, float64(durationMs))
}

// RecordToolDuration folds a completed tool call's wall time into the
// running total.
func (c *Collector) RecordToolDuration(durationMs int64) {
	c.Histogram(MetricToolDuration, float64(durationMs))
}

// TaskStarted records a newly admitted task.
func (c *Collector) TaskStarted() { c.Counter(MetricTaskStarted) }

// TaskCompleted records a task reaching a terminal Completed state.
func (c *Collector) TaskCompleted() { c.Counter(MetricTaskCompleted) }

// TaskFailed records a task reaching any other terminal state (Failed,
// Cancelled, TimedOut) — spec.md's get_metrics does not distinguish among
// them beyond "not completed".
func (c *Collector) TaskFailed() { c.Counter(MetricTaskFailed) }

// Snapshot is the observable counter set behind GET /api/v1/metrics,
// SPEC_FULL.md §3.
type Snapshot struct {
	TasksTotal     int64
	TasksActive    int64
	TasksCompleted int64
	TasksFailed    int64
	ToolCallCounts map[string]int64
	ModelCallCount int64
	TotalModelMs   int64
	TotalToolMs    int64
	Uptime         time.Duration
}

// Snapshot returns a point-in-time copy of the collector's counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	toolCalls := make(map[string]int64, len(c.toolCallCounts))
	for k, v := range c.toolCallCounts {
		toolCalls[k] = v
	}
	c.mu.Unlock()

	return Snapshot{
		TasksTotal:     atomic.LoadInt64(&c.tasksTotal),
		TasksActive:    atomic.LoadInt64(&c.tasksActive),
		TasksCompleted: atomic.LoadInt64(&c.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&c.tasksFailed),
		ToolCallCounts: toolCalls,
		ModelCallCount: atomic.LoadInt64(&c.modelCallCount),
		TotalModelMs:   atomic.LoadInt64(&c.totalModelMs),
		TotalToolMs:    atomic.LoadInt64(&c.totalToolMs),
		Uptime:         time.Since(c.startedAt),
	}
}

func labelValue(labels []string, key string) string {
	for i := 0; i+1 < len(labels); i += 2 {
		if labels[i] == key {
			return labels[i+1]
		}
	}
	return "unknown"
}
