package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bizpulse-backend/internal/llm"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient("test-key", serverURL, "gpt-4o-mini", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.retryDelay = time.Millisecond
	return client
}

func completionBody(content string) string {
	resp := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestCompleteSendsChatRequest(t *testing.T) {
	var gotPath, gotAuth, gotCorrelation string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"ok": true}`)))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	temp := float32(0.2)
	maxTokens := 1024
	out, err := client.Complete(context.Background(), llm.Request{
		SystemPrompt:  "system",
		UserPrompt:    "user",
		CorrelationID: "corr-1",
		Temperature:   &temp,
		MaxTokens:     &maxTokens,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"ok": true}` {
		t.Fatalf("unexpected content %q", out)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotCorrelation != "corr-1" {
		t.Fatalf("expected correlation header, got %q", gotCorrelation)
	}
	if rf, ok := gotBody["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", gotBody["response_format"])
	}
	if gotBody["temperature"] != float64(temp) {
		t.Fatalf("expected temperature to be forwarded, got %v", gotBody["temperature"])
	}
	if gotBody["max_tokens"] != float64(maxTokens) {
		t.Fatalf("expected max_tokens to be forwarded, got %v", gotBody["max_tokens"])
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(completionBody(`{"second": "try"}`)))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	out, err := client.Complete(context.Background(), llm.Request{UserPrompt: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"second": "try"}` {
		t.Fatalf("unexpected content %q", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestCompleteStopsAfterTwoAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Complete(context.Background(), llm.Request{UserPrompt: "u"})

	var completionErr *llm.CompletionError
	if !errors.As(err, &completionErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestCompleteDoesNotRetryAPIErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid model", "type": "invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Complete(context.Background(), llm.Request{UserPrompt: "u"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry for an API error, got %d attempts", calls.Load())
	}
}

func TestCompleteEmptyContentFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody("   ")))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	if _, err := client.Complete(context.Background(), llm.Request{UserPrompt: "u"}); err == nil {
		t.Fatalf("expected error for empty content")
	}
}
