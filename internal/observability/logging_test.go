package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestWithCaseID(t *testing.T) {
	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-123")

	lc := GetContext(ctx)
	if lc.CaseID != "case-123" {
		t.Errorf("expected case-123, got %s", lc.CaseID)
	}
}

func TestWithDocumentID(t *testing.T) {
	ctx := context.Background()
	ctx = WithDocumentID(ctx, "doc-456")

	lc := GetContext(ctx)
	if lc.DocumentID != "doc-456" {
		t.Errorf("expected doc-456, got %s", lc.DocumentID)
	}
}

func TestWithStage(t *testing.T) {
	ctx := context.Background()
	ctx = WithStage(ctx, "extracting")

	lc := GetContext(ctx)
	if lc.Stage != "extracting" {
		t.Errorf("expected extracting, got %s", lc.Stage)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-789")

	lc := GetContext(ctx)
	if lc.RequestID != "req-789" {
		t.Errorf("expected req-789, got %s", lc.RequestID)
	}
}

func TestWithUserID(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, "user-abc")

	lc := GetContext(ctx)
	if lc.UserID != "user-abc" {
		t.Errorf("expected user-abc, got %s", lc.UserID)
	}
}

func TestMultipleContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-1")
	ctx = WithDocumentID(ctx, "doc-1")
	ctx = WithStage(ctx, "analyzing")
	ctx = WithRequestID(ctx, "req-1")

	lc := GetContext(ctx)

	if lc.CaseID != "case-1" {
		t.Error("expected case-1")
	}
	if lc.DocumentID != "doc-1" {
		t.Error("expected doc-1")
	}
	if lc.Stage != "analyzing" {
		t.Error("expected analyzing")
	}
	if lc.RequestID != "req-1" {
		t.Error("expected req-1")
	}
}

func TestOverwriteContextValue(t *testing.T) {
	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-1")
	ctx = WithCaseID(ctx, "case-2")

	lc := GetContext(ctx)
	if lc.CaseID != "case-2" {
		t.Errorf("expected case-2, got %s", lc.CaseID)
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	lc := GetContext(ctx)

	if lc.CaseID != "" || lc.DocumentID != "" || lc.Stage != "" {
		t.Error("expected empty context")
	}
}

func TestInfoContext(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-1")
	ctx = WithDocumentID(ctx, "doc-1")

	InfoContext(ctx, "test message", slog.String("extra", "value"))

	output := buf.String()
	if !contains(output, "case-1") {
		t.Error("expected case-1 in log output")
	}
	if !contains(output, "doc-1") {
		t.Error("expected doc-1 in log output")
	}
	if !contains(output, "test message") {
		t.Error("expected message in log output")
	}
}

func TestWarnContext(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = WithStage(ctx, "indexing")

	WarnContext(ctx, "warning message", slog.String("reason", "timeout"))

	output := buf.String()
	if !contains(output, "indexing") {
		t.Error("expected stage in log output")
	}
	if !contains(output, "warning message") {
		t.Error("expected message in log output")
	}
}

func TestErrorContext(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-error")
	ctx = WithRequestID(ctx, "req-error")

	ErrorContext(ctx, "error occurred", slog.String("error", "connection failed"))

	output := buf.String()
	if !contains(output, "case-error") {
		t.Error("expected case-error in log output")
	}
	if !contains(output, "req-error") {
		t.Error("expected req-error in log output")
	}
}

func TestDebugContext(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = WithUserID(ctx, "user-123")

	DebugContext(ctx, "debug info", slog.Int("count", 42))

	output := buf.String()
	if !contains(output, "user-123") {
		t.Error("expected user-123 in log output")
	}
}

func TestLogBuilder(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-1")

	lb := NewLogBuilder(ctx)
	lb.With("operation", "delete").With("duration_ms", 150).Info("operation completed")

	output := buf.String()
	if !contains(output, "case-1") {
		t.Error("expected case-1 in log output")
	}
	if !contains(output, "delete") {
		t.Error("expected operation in log output")
	}
	if !contains(output, "150") {
		t.Error("expected duration in log output")
	}
}

func TestLogBuilderWithVariousTypes(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()

	lb := NewLogBuilder(ctx).
		With("string_val", "test").
		With("int_val", 42).
		With("int64_val", int64(9999)).
		With("float_val", 3.14).
		With("bool_val", true)

	lb.Info("type test")

	output := buf.String()
	if !contains(output, "test") {
		t.Error("expected string value in log output")
	}
}

func TestContextIsolation(t *testing.T) {
	ctx1 := context.Background()
	ctx1 = WithCaseID(ctx1, "case-1")

	ctx2 := context.Background()
	ctx2 = WithCaseID(ctx2, "case-2")

	lc1 := GetContext(ctx1)
	lc2 := GetContext(ctx2)

	if lc1.CaseID != "case-1" {
		t.Error("context1 modified")
	}
	if lc2.CaseID != "case-2" {
		t.Error("context2 modified")
	}
}

func TestStagedContextFlow(t *testing.T) {
	ctx := context.Background()

	ctx = WithCaseID(ctx, "case-123")
	ctx = WithDocumentID(ctx, "doc-456")

	extractCtx := WithStage(ctx, "extracting")
	lc := GetContext(extractCtx)
	if lc.CaseID != "case-123" || lc.DocumentID != "doc-456" || lc.Stage != "extracting" {
		t.Error("staged context flow failed for extracting")
	}

	analyzeCtx := WithStage(ctx, "analyzing")
	lc = GetContext(analyzeCtx)
	if lc.CaseID != "case-123" || lc.DocumentID != "doc-456" || lc.Stage != "analyzing" {
		t.Error("staged context flow failed for analyzing")
	}
}

func TestGetLogAttrsSkipsEmptyFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithCaseID(ctx, "case-1")
	ctx = WithDocumentID(ctx, "doc-1")

	attrs := getLogAttrs(ctx)

	if len(attrs) != 2 {
		t.Errorf("expected 2 attributes, got %d", len(attrs))
	}

	attrStr := ""
	for _, attr := range attrs {
		attrStr += attr.Key
	}

	if !contains(attrStr, "case_id") {
		t.Error("expected case_id attribute")
	}
	if !contains(attrStr, "document_id") {
		t.Error("expected document_id attribute")
	}
	if contains(attrStr, "stage") {
		t.Error("unexpected stage attribute when not set")
	}
}
