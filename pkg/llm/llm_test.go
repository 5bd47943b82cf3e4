package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_InvalidProvider(t *testing.T) {
	if _, err := NewClient(Config{Provider: "invalid", APIKey: "test"}); err == nil {
		t.Fatal("expected error for invalid provider")
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	if _, err := NewClient(Config{Provider: OpenAI}); err == nil {
		t.Fatal("expected error for openai without API key")
	}
}

func TestNewClient_CompatibleNeedsBaseURL(t *testing.T) {
	if _, err := NewClient(Config{Provider: Compatible}); err == nil {
		t.Fatal("expected error without base_url")
	}
	c, err := NewClient(Config{Provider: Compatible, BaseURL: "http://localhost:8080/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()
	if c.Provider() != Compatible {
		t.Fatalf("provider = %s", c.Provider())
	}
}

func TestNewClient_Ollama(t *testing.T) {
	client, err := NewClient(Config{Provider: Ollama, BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Provider() != Ollama {
		t.Fatalf("expected Ollama provider, got %s", client.Provider())
	}
	client.Close()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider != OpenAI || cfg.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestOpenAI_GenerateJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system + user messages, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "```json\n{\"category\":\"sighting\"}\n```"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: OpenAI, APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini", MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Category string `json:"category"`
	}
	err = client.GenerateJSON(context.Background(), &Request{
		System:   "classify",
		Messages: []Message{{Role: "user", Content: "I saw lights"}},
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if out.Category != "sighting" {
		t.Fatalf("category = %q", out.Category)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: OpenAI, APIKey: "k", BaseURL: srv.URL, MaxRetries: 3})
	_, err := client.Generate(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "bad model" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if apiErr.Temporary() {
		t.Fatal("400 must not be retried")
	}
}

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Format != "json" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": "<think>hm</think>{\"ok\":true}"},
			"done_reason":       "stop",
			"prompt_eval_count": 3,
			"eval_count":        2,
		})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: Ollama, BaseURL: srv.URL})
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.GenerateJSON(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "x"}}}, &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Fatal("expected ok=true")
	}
}

func TestRetryClient_NoRetryOnSuccess(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return &Response{Content: "hello"}, nil
		},
	}
	resp, err := wrapWithRetry(mock, 3).Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || calls != 1 {
		t.Fatalf("content=%q calls=%d", resp.Content, calls)
	}
}

func TestRetryClient_RetriesTemporaryErrors(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			if calls < 3 {
				return nil, &APIError{Provider: "mock", StatusCode: http.StatusServiceUnavailable}
			}
			return &Response{Content: "ok"}, nil
		},
	}
	rc := &retryClient{inner: mock, maxRetries: 3, baseDelay: time.Millisecond, logger: slog.Default()}
	if _, err := rc.Generate(context.Background(), &Request{}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryClient_GivesUp(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return nil, &APIError{Provider: "mock", StatusCode: http.StatusTooManyRequests}
		},
	}
	rc := &retryClient{inner: mock, maxRetries: 2, baseDelay: time.Millisecond, logger: slog.Default()}
	_, err := rc.Generate(context.Background(), &Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || calls != 2 {
		t.Fatalf("expected wrapped api error after 2 calls, got %v (%d calls)", err, calls)
	}
}

func TestRetryClient_NoRetryOnPermanentError(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return nil, &APIError{Provider: "mock", StatusCode: http.StatusUnauthorized}
		},
	}
	rc := &retryClient{inner: mock, maxRetries: 5, baseDelay: time.Millisecond, logger: slog.Default()}
	if _, err := rc.Generate(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryClient_Backoff(t *testing.T) {
	rc := &retryClient{baseDelay: 500 * time.Millisecond}
	if got := rc.backoff(0); got != 500*time.Millisecond {
		t.Fatalf("backoff(0) = %v", got)
	}
	if got := rc.backoff(2); got != 2*time.Second {
		t.Fatalf("backoff(2) = %v", got)
	}
	if got := rc.backoff(20); got != maxBackoff {
		t.Fatalf("backoff(20) = %v, want cap", got)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"chatter", "Sure! Here it is: {\"a\":1} Hope that helps.", `{"a":1}`},
		{"think", "<think>\nreasoning\n</think>\n{\"a\":1}", `{"a":1}`},
		{"array", "[1,2]", "[1,2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripThinkTags(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Hello world", "Hello world"},
		{"<think>reasoning here</think>Actual response", "Actual response"},
		{"<think>only thinking</think>", ""},
	}
	for _, tt := range tests {
		if got := stripThinkTags(tt.input); got != tt.want {
			t.Errorf("stripThinkTags(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

type mockClient struct {
	generateFn func(ctx context.Context, req *Request) (*Response, error)
}

func (m *mockClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return m.generateFn(ctx, req)
}
func (m *mockClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	return nil
}
func (m *mockClient) Provider() Provider { return "mock" }
func (m *mockClient) Close() error       { return nil }
