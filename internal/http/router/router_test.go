package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/health"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Name: "redis", Healthy: false, Error: "redis down"}
}

func newRouterTestDeps() Dependencies {
	return Dependencies{
		AuthRateLimitRPM: 1000,
		EnableOTelHTTP:   false,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthLive(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = nil
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "DEPENDENCY_UNREADY") {
			t.Fatalf("expected unready envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterProtectedRoutesRejectMissingToken(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	for _, target := range []string{
		"/api/v1/conversations/c1/messages",
		"/api/v1/rooms/r1/messages",
		"/api/v1/auth/logout",
	} {
		rr := perform(r, http.MethodPost, target, nil, `{"content":"hi"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"UNAUTHORIZED"`) {
			t.Fatalf("%s: expected uniform envelope, got %s", target, rr.Body.String())
		}
	}
}

func TestRouterSetsRequestID(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}

	rr = perform(r, http.MethodGet, "/health/live", map[string]string{"X-Request-Id": "req-abc"}, "")
	if got := rr.Header().Get("X-Request-Id"); got != "req-abc" {
		t.Fatalf("inbound request id not honored, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), `"request_id":"req-abc"`) {
		t.Fatalf("envelope meta should carry the request id, got %s", rr.Body.String())
	}
}
