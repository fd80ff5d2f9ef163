package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()

	debug := New("debug", "text")
	if !debug.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	errOnly := New("error", "text")
	if errOnly.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info level to be disabled at error level")
	}

	// Unknown levels fall back to info.
	fallback := New("verbose", "text")
	if fallback.Enabled(ctx, slog.LevelDebug) {
		t.Error("expected fallback logger to reject debug")
	}
	if !fallback.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected fallback logger to accept info")
	}
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.Info("batch created", "batchId", "abc")

	out := buf.String()
	if !strings.Contains(out, `"msg":"batch created"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"batchId":"abc"`) {
		t.Errorf("expected attribute in output, got %q", out)
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.Info("node refreshed")

	if !strings.Contains(buf.String(), "msg=\"node refreshed\"") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("expected empty request id, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("request id = %q, want req-123", id)
	}

	// A later value replaces the earlier one.
	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("request id = %q, want req-456", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()
	custom := New("info", "text")

	if got := FromContext(ctx); got != slog.Default() {
		t.Error("expected default logger without context value")
	}

	ctx = WithLogger(ctx, custom)
	if got := FromContext(ctx); got != custom {
		t.Error("expected context logger")
	}
}

func TestL_TagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "text"))
	ctx = WithRequestID(ctx, "req-789")

	L(ctx).Info("handled")

	if !strings.Contains(buf.String(), "request_id=req-789") {
		t.Errorf("expected request id attribute, got %q", buf.String())
	}
}
