package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/rtt"
)

// TokenUsage reports how many tokens a completion consumed.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a completion call.
type Response struct {
	Content   string
	Model     string
	Usage     TokenUsage
	ToolCalls []ToolCall
}

// ToolCall is a model-requested invocation of a registered tool, returned
// from CompleteWithTools.
type ToolCall struct {
	Name string
	Args map[string]interface{}
}

// ToolSpec describes a tool the model may call, for CompleteWithTools.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Kind classifies adapter errors per spec.md §7's ModelError taxonomy.
type Kind string

const (
	KindAuth       Kind = "Auth"
	KindRateLimit  Kind = "RateLimited"
	KindTimeout    Kind = "Timeout"
	KindNetwork    Kind = "Network"
	KindMalformed  Kind = "Malformed"
	KindConfig     Kind = "Config"
)

// Error is the adapter's tagged error type.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// retryable reports whether Kind should be retried inside the adapter, per
// spec.md §4.7: retry on NetworkError/RateLimited/Timeout, never on auth or
// config errors.
func (k Kind) retryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindTimeout:
		return true
	default:
		return false
	}
}

// Adapter implements the LLM Adapter (C3) over an OpenAI-compatible HTTP
// transport, grounded on ai/client.go's OpenAIClient, generalized to select
// endpoint/headers per Provider instead of being hardcoded to OpenAI.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	logger     corelog.Logger
	retryCfg   *rtt.Config
}

// New constructs an Adapter from the given options.
func New(logger corelog.Logger, opts ...Option) *Adapter {
	cfg := Config{
		Provider:    ProviderOpenAI,
		ModelName:   "gpt-4",
		MaxTokens:   2000,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		retryCfg: &rtt.Config{
			MaxAttempts:   cfg.MaxRetries,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}
}

// ModelName returns the bare model name this adapter was configured with.
func (a *Adapter) ModelName() string { return a.cfg.ModelName }

// SupportsTools reports whether CompleteWithTools is meaningful for the
// configured provider. Every OpenAI-compatible provider does.
func (a *Adapter) SupportsTools() bool {
	return IsOpenAICompatible(a.cfg.Provider)
}

// Complete sends prompt to the configured provider and returns its response,
// retrying NetworkError/RateLimited/Timeout up to cfg.MaxRetries times.
func (a *Adapter) Complete(ctx context.Context, prompt string) (*Response, error) {
	return a.complete(ctx, prompt, nil)
}

// CompleteWithTools is like Complete but advertises tools the model may
// call; ToolCalls on the response are populated if the model chose to call one.
func (a *Adapter) CompleteWithTools(ctx context.Context, prompt string, tools []ToolSpec) (*Response, error) {
	return a.complete(ctx, prompt, tools)
}

func (a *Adapter) complete(ctx context.Context, prompt string, tools []ToolSpec) (*Response, error) {
	if !IsOpenAICompatible(a.cfg.Provider) {
		return nil, &Error{Kind: KindConfig, Message: fmt.Sprintf("provider %q has no configured transport", a.cfg.Provider)}
	}
	if a.cfg.APIKey == "" && a.cfg.Provider != ProviderLocal {
		return nil, &Error{Kind: KindAuth, Message: "no API key configured for provider " + string(a.cfg.Provider)}
	}

	var resp *Response
	err := rtt.Retry(ctx, a.retryCfg, func() error {
		r, callErr := a.call(ctx, prompt, tools)
		if callErr == nil {
			resp = r
			return nil
		}
		var adapterErr *Error
		if errors.As(callErr, &adapterErr) && !adapterErr.Kind.retryable() {
			return &nonRetryableWrapper{err: adapterErr}
		}
		return callErr
	})

	if err != nil {
		var nr *nonRetryableWrapper
		if errors.As(err, &nr) {
			return nil, nr.err
		}
		if errors.Is(err, rtt.ErrMaxRetriesExceeded) {
			a.logger.ErrorWithContext(ctx, "llm call exhausted retries", map[string]interface{}{
				"provider": a.cfg.Provider,
				"model":    a.cfg.ModelName,
			})
		}
		return nil, err
	}
	return resp, nil
}

// nonRetryableWrapper short-circuits rtt.Retry: it satisfies the error
// interface but rtt.Retry has no notion of "stop retrying", so Complete
// unwraps it immediately after the call returns.
type nonRetryableWrapper struct{ err error }

func (w *nonRetryableWrapper) Error() string { return w.err.Error() }
func (w *nonRetryableWrapper) Unwrap() error { return w.err }

func (a *Adapter) call(ctx context.Context, prompt string, tools []ToolSpec) (*Response, error) {
	messages := []map[string]string{{"role": "user", "content": prompt}}

	body := map[string]interface{}{
		"model":       TaggedModel(a.cfg.Provider, a.cfg.ModelName),
		"messages":    messages,
		"temperature": a.cfg.Temperature,
		"max_tokens":  a.cfg.MaxTokens,
	}
	if len(tools) > 0 {
		body["tools"] = toOpenAITools(tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Message: "failed to marshal request", Err: err}
	}

	url := a.cfg.Endpoint + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindConfig, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "failed to read response", Err: err}
	}

	switch httpResp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Message: string(respBody)}
	case http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimit, Message: string(respBody)}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return nil, &Error{Kind: KindTimeout, Message: string(respBody)}
	}
	if httpResp.StatusCode >= 500 {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("upstream error (status %d): %s", httpResp.StatusCode, respBody)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindMalformed, Message: fmt.Sprintf("unexpected status %d: %s", httpResp.StatusCode, respBody)}
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "failed to parse response", Err: err}
	}
	if len(decoded.Choices) == 0 {
		return nil, &Error{Kind: KindMalformed, Message: "empty choices in response"}
	}

	choice := decoded.Choices[0]
	resp := &Response{
		Content: choice.Message.Content,
		Model:   decoded.Model,
		Usage: TokenUsage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: tc.Function.Name, Args: args})
	}
	return resp, nil
}

func toOpenAITools(tools []ToolSpec) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}
