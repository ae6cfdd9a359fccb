package queue

import (
	"strings"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		RunID:      "123e4567-e89b-12d3-a456-426614174000",
		RequestID:  "req-42",
		EnqueuedAt: "2026-02-01T10:30:00Z",
		Version:    1,
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, key := range []string{`"runId"`, `"requestId"`, `"enqueuedAt"`, `"version"`} {
		if !strings.Contains(string(payload), key) {
			t.Fatalf("expected payload to carry %s: %s", key, payload)
		}
	}

	decoded, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, msg)
	}
}

func TestDecodeMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"runId":`)); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
