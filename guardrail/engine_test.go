package guardrail

import (
	"context"
	"testing"
	"time"

	"github.com/avalonlabs/taskrunner/task"
)

func TestEngineCheckSafeOperationNeedsNoResponse(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()))
	guard, resp, err := e.Check(context.Background(), "task-1", 1, PendingOperation{
		OperationType: task.OpFileRead,
		Reversible:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if guard == nil {
		t.Fatal("expected a guard")
	}
	if resp != nil {
		t.Errorf("expected no confirmation response for a safe op, got %+v", resp)
	}
}

func TestEngineCheckAppliesDefaultActionWithoutResponder(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()))
	_, resp, err := e.Check(context.Background(), "task-1", 1, PendingOperation{
		OperationType: task.OpCommandSystem,
		CommandString: "sudo rm -rf /data",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a confirmation response")
	}
	if resp.Action != ActionAbort {
		t.Errorf("action = %v, want Abort (default) when no responder is configured", resp.Action)
	}
	if !resp.WasDefault {
		t.Error("expected WasDefault to be true")
	}
}

func TestEngineCheckTimeoutResolvesToSkip(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()),
		WithTimeout(20*time.Millisecond),
		WithResponder(ResponderFunc(func(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
			<-ctx.Done()
			return ConfirmationResponse{}, ctx.Err()
		})),
	)
	_, resp, err := e.Check(context.Background(), "task-timeout", 1, PendingOperation{
		OperationType: task.OpCommandSystem,
		CommandString: "sudo rm -rf /data",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a confirmation response")
	}
	if resp.Action != ActionSkip {
		t.Errorf("action = %v, want Skip on confirmation timeout (spec.md default), not the headless DefaultAction", resp.Action)
	}
	if !resp.WasDefault {
		t.Error("expected WasDefault to be true")
	}
}

func TestEngineCheckUsesResponder(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()), WithResponder(ResponderFunc(
		func(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
			return ConfirmationResponse{Action: ActionProceed}, nil
		},
	)))
	_, resp, err := e.Check(context.Background(), "task-2", 1, PendingOperation{
		OperationType: task.OpFileDelete,
		Targets:       []task.Target{{Path: "important.txt"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Action != ActionProceed {
		t.Fatalf("expected ActionProceed from responder, got %+v", resp)
	}
}

func TestEngineCheckRecordsHistory(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()))
	ctx := context.Background()
	if _, _, err := e.Check(ctx, "task-3", 1, PendingOperation{OperationType: task.OpDirectoryDelete}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := e.History(ctx, "task-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
}

func TestEngineWithAutoApprovePolicySkipsConfirmation(t *testing.T) {
	e := New(NewRiskClassifier(DefaultConfig()), WithPolicy(NewAutoApprovePolicy()))
	_, resp, err := e.Check(context.Background(), "task-4", 1, PendingOperation{
		OperationType: task.OpDatabaseDrop,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Errorf("expected AutoApprovePolicy to bypass confirmation, got %+v", resp)
	}
}

func TestEngineForwardsForbiddenError(t *testing.T) {
	e := New(NewRiskClassifier(Config{ForbiddenOperationTypes: []task.OperationType{task.OpDatabaseDrop}}))
	_, _, err := e.Check(context.Background(), "task-5", 1, PendingOperation{OperationType: task.OpDatabaseDrop})
	if err == nil {
		t.Fatal("expected forbidden error")
	}
}
