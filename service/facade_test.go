package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avalonlabs/taskrunner/executor"
	"github.com/avalonlabs/taskrunner/guardrail"
	"github.com/avalonlabs/taskrunner/llm"
	"github.com/avalonlabs/taskrunner/planner"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/registry"
	"github.com/avalonlabs/taskrunner/rtt"
	"github.com/avalonlabs/taskrunner/safety"
	"github.com/avalonlabs/taskrunner/task"
	"github.com/avalonlabs/taskrunner/tool"
)

// mockLLMServer returns phase-appropriate content for both the planner's
// single-shot labels and the executor's per-phase labels.
func mockLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var p string
		if len(body.Messages) > 0 {
			p = body.Messages[len(body.Messages)-1].Content
		}

		var content string
		switch {
		case strings.Contains(p, "SUMMARY:"):
			content = "SUMMARY: Read and summarize a file\nKEY_REQUIREMENTS:\n- Read README.md\n" +
				"TASK_TYPE: analysis\nCOMPLEXITY: Simple\nRISKS:\n- none\nCLARIFICATIONS:\n- none\n"
		case strings.Contains(p, "DESCRIPTION:"):
			content = "DESCRIPTION: Read the file and print a summary\nTECH_STACK:\n- none\n" +
				"ARCHITECTURE: single step\nDECISIONS:\n- none\nEXPECTED_OUTCOMES:\n- summary printed\nALTERNATIVES:\n- none\n"
		case strings.Contains(p, "STEPS:"):
			content = "STEPS:\n- read the file\nESTIMATED_DURATION: 1m\nRESOURCES:\n- none\n" +
				"MILESTONES:\n- done\nSUCCESS_CRITERIA:\n- file read\n"
		case strings.Contains(p, "UNDERSTANDING:"):
			content = "UNDERSTANDING: Read and summarize README.md\nAPPROACH: Use the read_file tool\nCOMPLEXITY: Simple\n"
		default:
			content = "UNDERSTANDING: fallback\nAPPROACH: fallback\nCOMPLEXITY: Simple\n"
		}

		resp := map[string]interface{}{
			"model": "gpt-4",
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": content}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestFacade(t *testing.T, serverURL string) *Facade {
	t.Helper()
	dir := t.TempDir()
	adapter := llm.New(nil, llm.WithProvider(llm.ProviderOpenAI), llm.WithAPIKey("test-key"), llm.WithEndpoint(serverURL))
	builder := prompt.New(prompt.Config{})
	validator := safety.New(safety.Config{SandboxRoot: dir, MaxCommandTimeoutSecs: 5})
	dispatcher := tool.New(tool.NewReadFileTool(validator), tool.NewWriteFileTool(validator))
	guardEngine := guardrail.New(guardrail.NewRiskClassifier(guardrail.DefaultConfig()), guardrail.WithPolicy(guardrail.NewAutoApprovePolicy()))

	p := planner.New(adapter, builder, rtt.DefaultConfig(), nil)
	e := executor.New(adapter, builder, guardEngine, dispatcher, executor.WithConfig(executor.Config{
		MinConfidenceThreshold: 0.7, MaxRetriesPerPhase: 2, TaskTimeout: 10 * time.Second,
	}))
	reg := registry.New(2)

	return New(Config{MaxConcurrentTasks: 2, DefaultMode: ModePhased, DefaultTaskTimeout: 10 * time.Second},
		reg, p, e, dispatcher)
}

func TestFacadeExecuteTaskPhasedCompletes(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	tc, err := f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read and summarize README.md"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if tc.Status != task.StatusCompleted {
		t.Fatalf("Status = %v, want Completed", tc.Status)
	}
}

func TestFacadeExecuteTaskSingleShotCompletes(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	tc, err := f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read README.md", Mode: ModeSingleShot})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if tc.Status != task.StatusCompleted {
		t.Fatalf("Status = %v, want Completed", tc.Status)
	}
	if tc.Plan == nil {
		t.Fatal("expected a plan to be set")
	}
}

func TestFacadeGetTaskStatusUnknownReturnsNotFound(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	if _, err := f.GetTaskStatus("nope"); err != ErrNotFound {
		t.Errorf("GetTaskStatus = %v, want ErrNotFound", err)
	}
}

func TestFacadeCancelTaskUnknownReturnsNotFound(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	if err := f.CancelTask("nope"); err != ErrNotFound {
		t.Errorf("CancelTask = %v, want ErrNotFound", err)
	}
}

func TestFacadeCancelTaskOnCompletedTaskReturnsAlreadyTerminal(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	tc, err := f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read README.md", Mode: ModeSingleShot})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if tc.Status != task.StatusCompleted {
		t.Fatalf("Status = %v, want Completed", tc.Status)
	}

	if err := f.CancelTask(tc.TaskID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("CancelTask on a completed task = %v, want ErrAlreadyTerminal", err)
	}
}

func TestFacadeExecuteTaskDuplicateIDReturnsValidation(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	req := ExecuteRequest{TaskID: "dup-task", Request: "read README.md", Mode: ModeSingleShot}
	if _, err := f.ExecuteTask(context.Background(), req); err != nil {
		t.Fatalf("first ExecuteTask: %v", err)
	}
	if _, err := f.ExecuteTask(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Errorf("second ExecuteTask with duplicate task_id = %v, want ErrValidation", err)
	}
}

func TestFacadeExecuteBatchSequentialShortCircuits(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	batch := BatchRequest{
		Mode: BatchSequential,
		Requests: []ExecuteRequest{
			{Request: "read README.md", Mode: ModeSingleShot},
			{Request: "read README.md", Mode: ModeSingleShot},
		},
	}
	resp, err := f.ExecuteBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if resp.Statistics.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Statistics.Total)
	}
	if len(resp.Responses) != 2 {
		t.Errorf("len(Responses) = %d, want 2", len(resp.Responses))
	}
}

func TestFacadeExecuteBatchParallelPreservesOrder(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	batch := BatchRequest{
		Mode: BatchParallel,
		Requests: []ExecuteRequest{
			{TaskID: "p-1", Request: "read README.md", Mode: ModeSingleShot},
			{TaskID: "p-2", Request: "read README.md", Mode: ModeSingleShot},
			{TaskID: "p-3", Request: "read README.md", Mode: ModeSingleShot},
		},
	}
	resp, err := f.ExecuteBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	for i, want := range []string{"p-1", "p-2", "p-3"} {
		if resp.Responses[i] == nil || resp.Responses[i].TaskID != want {
			t.Errorf("Responses[%d].TaskID = %v, want %s", i, resp.Responses[i], want)
		}
	}
}

func TestFacadeGetStatusReportsTally(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	_, _ = f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read README.md", Mode: ModeSingleShot})
	status := f.GetStatus()
	if status.CompletedTasks != 1 {
		t.Errorf("CompletedTasks = %d, want 1", status.CompletedTasks)
	}
	if len(status.AvailableTools) == 0 {
		t.Error("expected AvailableTools to be non-empty")
	}
}

func TestFacadeGetMetricsReflectsExecutedTasks(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	_, _ = f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read README.md", Mode: ModeSingleShot})
	snap := f.GetMetrics()
	if snap.TasksTotal != 1 || snap.TasksCompleted != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFacadeExecuteTaskRejectedAfterShutdown(t *testing.T) {
	server := mockLLMServer(t)
	defer server.Close()
	f := newTestFacade(t, server.URL)

	if err := f.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := f.ExecuteTask(context.Background(), ExecuteRequest{Request: "read README.md"}); err != ErrServiceUnavailable {
		t.Errorf("ExecuteTask after Shutdown = %v, want ErrServiceUnavailable", err)
	}
}
