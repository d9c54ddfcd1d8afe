package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avalonlabs/taskrunner/safety"
)

func newTestDispatcher(t *testing.T, sandbox string) *Dispatcher {
	t.Helper()
	v := safety.New(safety.Config{SandboxRoot: sandbox, MaxCommandTimeoutSecs: 5})
	return New(
		NewReadFileTool(v),
		NewWriteFileTool(v),
		NewListFilesTool(v),
		NewRunCommandTool(v, 2*time.Second),
	)
}

func TestDispatcherExecuteUnknownTool(t *testing.T) {
	d := New()
	if _, err := d.Execute(context.Background(), "does_not_exist", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestWriteThenReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)

	_, err := d.Execute(context.Background(), "write_file", map[string]interface{}{
		"path": "hello.txt", "content": "hello world",
	})
	if err != nil {
		t.Fatalf("write_file failed: %v", err)
	}

	got, err := d.Execute(context.Background(), "read_file", map[string]interface{}{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("read_file failed: %v", err)
	}
	if got != "hello world" {
		t.Errorf("read_file = %q, want %q", got, "hello world")
	}
}

func TestWriteFileBacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)
	ctx := context.Background()

	if _, err := d.Execute(ctx, "write_file", map[string]interface{}{"path": "f.txt", "content": "v1"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := d.Execute(ctx, "write_file", map[string]interface{}{"path": "f.txt", "content": "v2"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	backup, err := os.ReadFile(filepath.Join(dir, "f.txt.bak"))
	if err != nil {
		t.Fatalf("expected backup file, got error: %v", err)
	}
	if string(backup) != "v1" {
		t.Errorf("backup content = %q, want v1", backup)
	}
}

func TestReadFileRejectsPathEscapingSandbox(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)
	if _, err := d.Execute(context.Background(), "read_file", map[string]interface{}{"path": "../../etc/passwd"}); err == nil {
		t.Fatal("expected sandbox escape to be rejected")
	}
}

func TestListFilesFiltersByGlob(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)
	ctx := context.Background()

	for _, name := range []string{"a.go", "b.go", "c.txt"} {
		if _, err := d.Execute(ctx, "write_file", map[string]interface{}{"path": name, "content": "x"}); err != nil {
			t.Fatalf("write %s failed: %v", name, err)
		}
	}

	result, err := d.Execute(ctx, "list_files", map[string]interface{}{"path": ".", "glob": "*.go"})
	if err != nil {
		t.Fatalf("list_files failed: %v", err)
	}
	names, ok := result.([]string)
	if !ok || len(names) != 2 {
		t.Fatalf("expected 2 .go files, got %v", result)
	}
}

func TestRunCommandCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, dir)
	result, err := d.Execute(context.Background(), "run_command", map[string]interface{}{"command": "echo hi"})
	if err != nil {
		t.Fatalf("run_command failed: %v", err)
	}
	out := result.(map[string]interface{})
	if out["stdout"] != "hi\n" {
		t.Errorf("stdout = %q, want %q", out["stdout"], "hi\n")
	}
}

func TestRunCommandRejectsForbidden(t *testing.T) {
	dir := t.TempDir()
	v := safety.New(safety.Config{SandboxRoot: dir, ForbiddenCommands: []string{"rm -rf /"}, MaxCommandTimeoutSecs: 5})
	d := New(NewRunCommandTool(v, time.Second))
	if _, err := d.Execute(context.Background(), "run_command", map[string]interface{}{"command": "rm -rf / --no-preserve-root"}); err == nil {
		t.Fatal("expected forbidden command to be rejected")
	}
}

func TestRunCommandTimesOut(t *testing.T) {
	dir := t.TempDir()
	v := safety.New(safety.Config{SandboxRoot: dir, MaxCommandTimeoutSecs: 5})
	d := New(NewRunCommandTool(v, time.Second))
	_, err := d.Execute(context.Background(), "run_command", map[string]interface{}{
		"command": "sleep 5", "timeout_secs": 1,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
