package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avalonlabs/taskrunner/guardrail"
	"github.com/avalonlabs/taskrunner/llm"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/safety"
	"github.com/avalonlabs/taskrunner/task"
	"github.com/avalonlabs/taskrunner/tool"
)

// phaseAwareLLMServer returns a fixed response per phase, detected from the
// prompt's phase-specific instruction markers (SUMMARY:/DESCRIPTION:/STEPS:).
func phaseAwareLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var prompt string
		if len(body.Messages) > 0 {
			prompt = body.Messages[len(body.Messages)-1].Content
		}

		var content string
		switch {
		case strings.Contains(prompt, "SUMMARY:"):
			content = "SUMMARY: Add a health check endpoint\n" +
				"KEY_REQUIREMENTS:\n- Expose /healthz\n- Return 200 when ready\n" +
				"TASK_TYPE: feature\nCOMPLEXITY: Simple\nRISKS:\n- none\nCLARIFICATIONS:\n- none\n"
		case strings.Contains(prompt, "DESCRIPTION:"):
			content = "DESCRIPTION: Add a handler returning 200 OK\n" +
				"TECH_STACK:\n- net/http\nARCHITECTURE: single handler\n" +
				"DECISIONS:\n- no external deps\nEXPECTED_OUTCOMES:\n- endpoint live\nALTERNATIVES:\n- none\n"
		case strings.Contains(prompt, "STEPS:"):
			content = "STEPS:\n- write the handler file\n" +
				"ESTIMATED_DURATION: 5m\nRESOURCES:\n- none\nMILESTONES:\n- done\nSUCCESS_CRITERIA:\n- file exists\n"
		default:
			content = "SUMMARY: fallback\n"
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

func newTestExecutor(t *testing.T, serverURL string) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	adapter := llm.New(nil,
		llm.WithProvider(llm.ProviderOpenAI),
		llm.WithAPIKey("test-key"),
		llm.WithEndpoint(serverURL),
	)
	builder := prompt.New(prompt.Config{})
	validator := safety.New(safety.Config{SandboxRoot: dir, MaxCommandTimeoutSecs: 5})
	dispatcher := tool.New(tool.NewWriteFileTool(validator), tool.NewReadFileTool(validator))
	engine := guardrail.New(guardrail.NewRiskClassifier(guardrail.DefaultConfig()), guardrail.WithPolicy(guardrail.NewAutoApprovePolicy()))

	exec := New(adapter, builder, engine, dispatcher, WithConfig(Config{
		MinConfidenceThreshold: 0.7, MaxRetriesPerPhase: 2, TaskTimeout: 10 * time.Second,
	}))
	return exec, dir
}

func TestExecutorRunCompletesHappyPath(t *testing.T) {
	server := phaseAwareLLMServer(t)
	defer server.Close()

	exec, dir := newTestExecutor(t, server.URL)
	tc := &task.Context{
		TaskID:   "t-1",
		Request:  "add a health check endpoint",
		Status:   task.StatusQueued,
		Metadata: map[string]interface{}{},
	}
	tc.Steps = nil

	err := exec.Run(context.Background(), tc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tc.Status != task.StatusCompleted {
		t.Fatalf("Status = %v, want Completed", tc.Status)
	}
	if tc.Plan == nil || len(tc.Plan.Steps) == 0 {
		t.Fatalf("expected a non-empty plan, got %+v", tc.Plan)
	}
	_ = dir
}

// slowPlanningLLMServer behaves like phaseAwareLLMServer but sleeps before
// answering the Planning phase's call, opening a window for a concurrent
// goroutine to flip tc.Status to Cancelled (simulating registry.Cancel)
// before the Execution phase starts.
func slowPlanningLLMServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var prompt string
		if len(body.Messages) > 0 {
			prompt = body.Messages[len(body.Messages)-1].Content
		}

		var content string
		switch {
		case strings.Contains(prompt, "SUMMARY:"):
			content = "SUMMARY: Add a health check endpoint\nKEY_REQUIREMENTS:\n- Expose /healthz\n"
		case strings.Contains(prompt, "DESCRIPTION:"):
			content = "DESCRIPTION: Add a handler returning 200 OK\nDECISIONS:\n- no external deps\n"
		case strings.Contains(prompt, "STEPS:"):
			time.Sleep(delay)
			content = "STEPS:\n- write the handler file\n- verify the handler responds\n" +
				"SUCCESS_CRITERIA:\n- file exists\n"
		default:
			content = "SUMMARY: fallback\n"
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

func TestExecutorRunObservesCooperativeCancelMidRun(t *testing.T) {
	server := slowPlanningLLMServer(t, 100*time.Millisecond)
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL)
	tc := &task.Context{
		TaskID:   "t-cancel-midrun",
		Request:  "add a health check endpoint",
		Status:   task.StatusQueued,
		Metadata: map[string]interface{}{},
	}

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), tc) }()

	// Give the Understanding/Approach phases time to finish and the
	// Planning phase's artificial delay to start, then simulate
	// registry.Registry.Cancel flipping tc.Status from another goroutine —
	// exactly what service.Facade.CancelTask triggers.
	time.Sleep(30 * time.Millisecond)
	tc.Status = task.StatusCancelled

	if err := <-done; err == nil {
		t.Fatal("expected Run to return an error for a cancelled task")
	}
	if tc.Status != task.StatusCancelled {
		t.Fatalf("Status = %v, want Cancelled", tc.Status)
	}
	if tc.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if len(tc.Steps) == 0 {
		t.Fatal("expected the Planning phase to have produced steps to skip")
	}
	for _, s := range tc.Steps {
		if s.Status != task.StepSkipped {
			t.Errorf("step %d Status = %v, want Skipped", s.StepNumber, s.Status)
		}
	}
}

func TestExecutorRunRespectsCancellation(t *testing.T) {
	server := phaseAwareLLMServer(t)
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL)
	tc := &task.Context{TaskID: "t-2", Request: "add a health check endpoint", Status: task.StatusQueued}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Run(ctx, tc)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if tc.Status != task.StatusCancelled && tc.Status != task.StatusFailed {
		t.Errorf("Status = %v, want Cancelled or Failed", tc.Status)
	}
}
