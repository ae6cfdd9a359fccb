package llm

import "context"

// Request describes a single chat-completion call.
type Request struct {
	SystemPrompt  string
	UserPrompt    string
	CorrelationID string
	Temperature   *float32
	MaxTokens     *int
}

// Client executes chat completions against a backend model.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompletionError indicates the completion backend failed after exhausting retries.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	if e.Err == nil {
		return "completion failed"
	}
	return "completion failed: " + e.Err.Error()
}

func (e *CompletionError) Unwrap() error { return e.Err }
