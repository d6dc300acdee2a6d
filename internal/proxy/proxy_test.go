package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wudi/gateway/internal/auth"
	"github.com/wudi/gateway/internal/circuitbreaker"
	"github.com/wudi/gateway/internal/reqctx"
	"github.com/wudi/gateway/internal/retry"
)

func newForwarder(t *testing.T, policy retry.Policy) *Forwarder {
	t.Helper()
	return NewForwarder(
		NewTransportPool(DefaultTransportConfig),
		circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig),
		policy,
		2*time.Second,
		"",
		nil,
	)
}

func requestWithContext(method, path, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	rc := reqctx.New(r)
	ctx := reqctx.WithContext(r.Context(), rc)
	return r.WithContext(ctx)
}

func TestForwardRewritesHeadersAndStripsHopByHop(t *testing.T) {
	var gotHeader http.Header
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotPath = r.URL.Path
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newForwarder(t, retry.Policy{MaxRetries: 0})
	r := requestWithContext(http.MethodGet, "/api/users", "")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("X-Forwarded-For", "203.0.113.5")

	resp, err := f.Forward(r.Context(), r, Target{Upstream: "users", BaseURL: backend.URL}, auth.Principal{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if gotPath != "/api/users" {
		t.Errorf("path = %q, want /api/users", gotPath)
	}
	if gotHeader.Get("Connection") != "" {
		t.Error("expected Connection header stripped from outbound request")
	}
	if gotHeader.Get("X-Gateway-Service") != "users" {
		t.Errorf("X-Gateway-Service = %q, want users", gotHeader.Get("X-Gateway-Service"))
	}
	if gotHeader.Get("X-Gateway-Request-Id") == "" {
		t.Error("expected X-Gateway-Request-Id to be set")
	}
	if gotHeader.Get("X-Gateway-Forwarded-For") != "203.0.113.5" {
		t.Errorf("X-Gateway-Forwarded-For = %q", gotHeader.Get("X-Gateway-Forwarded-For"))
	}
	if resp.Header.Get("Connection") != "" {
		t.Error("expected Connection header stripped from response")
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Error("expected non-hop-by-hop response headers preserved")
	}
}

func TestForwardInjectsUserHeadersWhenAuthenticated(t *testing.T) {
	var gotHeader http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newForwarder(t, retry.Policy{MaxRetries: 0})
	r := requestWithContext(http.MethodGet, "/api/users", "")

	principal := auth.Principal{ID: "u1", Email: "a@example.com", Roles: []string{"admin"}, Name: "Ada"}
	resp, err := f.Forward(r.Context(), r, Target{Upstream: "users", BaseURL: backend.URL}, principal, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if gotHeader.Get("X-User-Id") != "u1" || gotHeader.Get("X-User-Roles") != "admin" {
		t.Errorf("unexpected user headers: %+v", gotHeader)
	}
}

func TestForwardPreservesAuthorization(t *testing.T) {
	var gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newForwarder(t, retry.Policy{MaxRetries: 0})
	r := requestWithContext(http.MethodGet, "/api/users", "")
	r.Header.Set("Authorization", "Bearer abc123")

	resp, err := f.Forward(r.Context(), r, Target{Upstream: "users", BaseURL: backend.URL}, auth.Principal{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q, want preserved", gotAuth)
	}
}

func TestForwardRetriesIdempotentOn502(t *testing.T) {
	var attempts int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	f := newForwarder(t, retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	r := requestWithContext(http.MethodGet, "/api/reports", "")

	resp, err := f.Forward(r.Context(), r, Target{Upstream: "reports", BaseURL: backend.URL}, auth.Principal{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestForwardDoesNotRetryNonIdempotentAfterResponse(t *testing.T) {
	var attempts int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	f := newForwarder(t, retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	r := requestWithContext(http.MethodPost, "/api/orders", `{"id":1}`)

	resp, err := f.Forward(r.Context(), r, Target{Upstream: "orders", BaseURL: backend.URL}, auth.Principal{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for POST after response received)", attempts)
	}
}

func TestForwardOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:         2,
		OpenTimeout:              time.Minute,
		HalfOpenSuccessThreshold: 1,
	})
	f := NewForwarder(NewTransportPool(DefaultTransportConfig), registry, retry.Policy{MaxRetries: 0}, 2*time.Second, "", nil)

	target := Target{Upstream: "flaky", BaseURL: backend.URL}

	for i := 0; i < 2; i++ {
		r := requestWithContext(http.MethodGet, "/api/flaky", "")
		resp, _ := f.Forward(r.Context(), r, target, auth.Principal{}, false)
		if resp != nil {
			resp.Body.Close()
		}
	}

	r := requestWithContext(http.MethodGet, "/api/flaky", "")
	_, err := f.Forward(r.Context(), r, target, auth.Principal{}, false)
	if err == nil {
		t.Fatal("expected an error once the breaker opens")
	}
}

func TestCopyResponseStripsHopByHopHeaders(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Connection": []string{"keep-alive"},
			"X-Keep":     []string{"yes"},
		},
		Body: io.NopCloser(strings.NewReader("hello")),
	}

	rec := httptest.NewRecorder()
	if err := CopyResponse(rec, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("Connection") != "" {
		t.Error("expected Connection header stripped")
	}
	if rec.Header().Get("X-Keep") != "yes" {
		t.Error("expected non-hop-by-hop header preserved")
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q, want hello", rec.Body.String())
	}
}
