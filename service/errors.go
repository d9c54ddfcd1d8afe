// Package service implements the Service Facade (C9): the in-process API
// spec.md §4.1 names (execute_task, execute_batch, get_task_status,
// cancel_task, get_status, get_metrics), composing the Task Registry (C8),
// Planner (C5), Sequential Executor (C6), Guardrail Engine (C7), Tool
// Dispatcher (C1), and Metrics Collector (C10).
//
// The Start/Shutdown lifecycle generalizes the teacher's core/tool.go
// BaseTool.Start/Shutdown pattern so httpapi can bind the facade to an
// http.Server with the same middleware chain the teacher composes there.
package service

import "errors"

// ErrServiceUnavailable is returned by ExecuteTask/ExecuteBatch once
// Shutdown has been called — spec.md §4.1's "admission denial (e.g.,
// shutdown in progress) surfaces ServiceUnavailable".
var ErrServiceUnavailable = errors.New("service: unavailable, shutdown in progress")

// ErrNotFound is returned by GetTaskStatus/CancelTask for an unknown
// task id.
var ErrNotFound = errors.New("service: task not found")

// ErrValidation is returned when a request is rejected before any side
// effect occurs — e.g. a client-supplied task_id that collides with a live
// task, per spec.md's open question on duplicate task_id ("rejected with
// Validation, mapped to HTTP 409 by httpapi").
var ErrValidation = errors.New("service: validation failed")

// ErrAlreadyTerminal is returned by CancelTask when the task is still
// registered but has already reached a terminal status, satisfying spec.md
// testable property #11's "NotFound ... or AlreadyTerminal — one of the
// two, consistently" by always choosing AlreadyTerminal over NotFound for a
// task that is found but terminal.
var ErrAlreadyTerminal = errors.New("service: task already in terminal state")
