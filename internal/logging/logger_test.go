package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithContextAddsTraceID(t *testing.T) {
	logger := New("testorch", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithIdentity(ctx, "qa@example.com")
	logger.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["trace_id"] != "trace-123" {
		t.Fatalf("expected trace_id trace-123, got %v", entry["trace_id"])
	}
	if entry["identity"] != "qa@example.com" {
		t.Fatalf("expected identity qa@example.com, got %v", entry["identity"])
	}
	if entry["service"] != "testorch" {
		t.Fatalf("expected service testorch, got %v", entry["service"])
	}
}

func TestNewFromEnvDefaults(t *testing.T) {
	logger := NewFromEnv("testorch")
	if logger.Logger.Level.String() != "info" {
		t.Fatalf("expected default level info, got %s", logger.Logger.Level.String())
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc")
	if got := TraceIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty trace id, got %s", got)
	}
}
