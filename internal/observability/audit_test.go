package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func captureAuditLine(t *testing.T, fn func()) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	fn()

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal audit line %q: %v", buf.String(), err)
	}
	return line
}

func TestAuditUsesServerMintedRequestID(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	// A stale inbound header must lose to the id the middleware minted.
	r.Header.Set("X-Request-Id", "client-sent")
	ctx := context.WithValue(r.Context(), chimiddleware.RequestIDKey, "srv-123")
	r = r.WithContext(ctx)

	line := captureAuditLine(t, func() {
		Audit(r, "login", "user_id", "42")
	})

	if line["request_id"] != "srv-123" {
		t.Fatalf("request_id = %v, want srv-123", line["request_id"])
	}
	if line["event"] != "login" {
		t.Fatalf("event = %v, want login", line["event"])
	}
	if line["method"] != "POST" || line["path"] != "/api/v1/auth/login" {
		t.Fatalf("unexpected method/path: %v %v", line["method"], line["path"])
	}
	if line["user_id"] != "42" {
		t.Fatalf("user_id = %v, want 42", line["user_id"])
	}
}

func TestAuditFallsBackToHeaderRequestID(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	r.Header.Set("X-Request-Id", "client-sent")

	line := captureAuditLine(t, func() {
		Audit(r, "logout")
	})

	if line["request_id"] != "client-sent" {
		t.Fatalf("request_id = %v, want client-sent", line["request_id"])
	}
}
