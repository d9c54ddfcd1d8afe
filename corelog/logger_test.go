package corelog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestProductionLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("taskrunner", "json", "debug", &buf)

	l.Info("task submitted", map[string]interface{}{"task_id": "abc123"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "task submitted" {
		t.Errorf("message = %v, want %q", entry["message"], "task submitted")
	}
	if entry["task_id"] != "abc123" {
		t.Errorf("task_id = %v, want abc123", entry["task_id"])
	}
	if entry["service"] != "taskrunner" {
		t.Errorf("service = %v, want taskrunner", entry["service"])
	}
}

func TestProductionLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("taskrunner", "text", "warn", &buf)

	l.Debug("should be dropped", nil)
	l.Info("should be dropped too", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}

	l.Warn("should appear", nil)
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn line to be written, got %q", buf.String())
	}
}

func TestWithComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := New("taskrunner", "json", "info", &buf)
	scoped := base.WithComponent("executor")

	scoped.Info("phase completed", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "executor" {
		t.Errorf("component = %v, want executor", entry["component"])
	}
}
