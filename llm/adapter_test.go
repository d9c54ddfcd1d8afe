package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avalonlabs/taskrunner/corelog"
)

func testLogger() corelog.Logger {
	return corelog.New("test", "text", "error", nil)
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		resp := map[string]interface{}{
			"model": "gpt-4",
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "hello"}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(testLogger(), WithProvider(ProviderOpenAI), WithAPIKey("test-key"), WithEndpoint(srv.URL), WithModel("gpt-4"))
	resp, err := a.Complete(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", resp.Usage.TotalTokens)
	}
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		resp := map[string]interface{}{
			"model":   "gpt-4",
			"choices": []map[string]interface{}{{"message": map[string]interface{}{"content": "ok"}}},
			"usage":   map[string]interface{}{},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(testLogger(), WithProvider(ProviderOpenAI), WithAPIKey("k"), WithEndpoint(srv.URL), WithMaxRetries(5))
	resp, err := a.Complete(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q", resp.Content)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestCompleteDoesNotRetryOnAuthError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	a := New(testLogger(), WithProvider(ProviderOpenAI), WithAPIKey("k"), WithEndpoint(srv.URL), WithMaxRetries(5))
	_, err := a.Complete(context.Background(), "say hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var adapterErr *Error
	if !asError(err, &adapterErr) || adapterErr.Kind != KindAuth {
		t.Fatalf("expected KindAuth, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on auth error)", attempts)
	}
}

func TestCompleteMissingAPIKeyFailsFast(t *testing.T) {
	a := New(testLogger(), WithProvider(ProviderOpenAI), WithEndpoint("http://example.invalid"))
	_, err := a.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestCompleteWithToolsSendsToolDefinitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["tools"]; !ok {
			t.Error("expected tools field in request body")
		}
		resp := map[string]interface{}{
			"model": "gpt-4",
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{
					"content": "",
					"tool_calls": []map[string]interface{}{
						{"function": map[string]interface{}{"name": "read_file", "arguments": `{"path":"a.txt"}`}},
					},
				}},
			},
			"usage": map[string]interface{}{},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(testLogger(), WithProvider(ProviderOpenAI), WithAPIKey("k"), WithEndpoint(srv.URL))
	resp, err := a.CompleteWithTools(context.Background(), "read a.txt", []ToolSpec{
		{Name: "read_file", Description: "reads a file", Parameters: map[string]interface{}{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Fatalf("expected one read_file tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Args["path"] != "a.txt" {
		t.Errorf("tool call args = %+v", resp.ToolCalls[0].Args)
	}
}

func TestCompleteRespectsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	a := New(testLogger(), WithProvider(ProviderOpenAI), WithAPIKey("k"), WithEndpoint(srv.URL), WithMaxRetries(1))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := a.Complete(ctx, "hi")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestModelNameAndSupportsTools(t *testing.T) {
	a := New(testLogger(), WithProvider(ProviderAnthropic), WithModel("claude-3"))
	if a.ModelName() != "claude-3" {
		t.Errorf("ModelName = %q", a.ModelName())
	}
	if a.SupportsTools() {
		t.Error("anthropic is not OpenAI-compatible and should not report SupportsTools")
	}
}

// asError is a small errors.As shim kept local to avoid importing errors
// just for one assertion helper in tests.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
