package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/marcasino/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterIsPerCaller(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	h := Identity(rl.Handler(okHandler()))

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserIDHeader, user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := call("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}
	if code := call("bob"); code != http.StatusOK {
		t.Fatalf("other callers must not be limited, got %d", code)
	}
}

func TestRateLimiterCleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.Discard())
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.getLimiter("alice")

	now = now.Add(5 * time.Minute)
	rl.getLimiter("bob")
	now = now.Add(6 * time.Minute)
	rl.Cleanup()

	if _, ok := rl.limiters["alice"]; ok {
		t.Fatalf("idle limiter should be removed")
	}
	if _, ok := rl.limiters["bob"]; !ok {
		t.Fatalf("recent limiter should be kept")
	}
}

func TestTracingEchoesTraceID(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "trace-1" || rec.Header().Get(TraceIDHeader) != "trace-1" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceIDHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Fatalf("expected generated trace id")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.example"}).Handler(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("origin not allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestOriginPolicyWebsocketCheck(t *testing.T) {
	p := NewOriginPolicy([]string{"https://app.example", ".casino.example"})

	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "api.example", true},
		{"https://api.example", "api.example", true},
		{"https://app.example", "api.example", true},
		{"https://play.casino.example:8443", "api.example", true},
		{"https://evil.example", "api.example", false},
		{"https://casino.example.evil", "api.example", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/events/stream", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := p.CheckOrigin(req); got != tc.want {
			t.Fatalf("origin %q on %q: got %v want %v", tc.origin, tc.host, got, tc.want)
		}
	}

	if !NewOriginPolicy([]string{"*"}).Allows("https://anything.example") {
		t.Fatalf("wildcard should allow any origin")
	}
	if NewOriginPolicy(nil).Allows("https://app.example") {
		t.Fatalf("empty policy should allow nothing")
	}
}
