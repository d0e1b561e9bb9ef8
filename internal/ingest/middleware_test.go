package ingest

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_DeniesBlockedAddress(t *testing.T) {
	blocks := &fakeBlocks{blocked: map[string]bool{"203.0.113.1": true}}
	p := NewPipeline(blocks, &fakeLogs{}, newCountingCache(t), &stubResolver{})

	called := false
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/secret?x=1", nil)
	req.RemoteAddr = "203.0.113.1:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatalf("next handler must not run for denied requests")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if rec.Body.String() != "Access denied. Your IP has been blocked." {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMiddleware_LogsPathWithoutQuery(t *testing.T) {
	logs := &fakeLogs{}
	p := NewPipeline(&fakeBlocks{}, logs, newCountingCache(t), &stubResolver{})

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/search?q=go", nil)
	req.RemoteAddr = "198.51.100.20:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if logs.count() != 1 || logs.entries[0].Path != "/search" {
		t.Fatalf("unexpected records %+v", logs.entries)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trust   bool
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:80", want: "192.0.2.1"},
		{name: "remote ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "headers ignored when untrusted", remote: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "8.8.8.8"}, want: "10.0.0.1"},
		{name: "first public forwarded hop", remote: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "10.1.1.1, 8.8.4.4, 1.1.1.1"}, trust: true, want: "8.8.4.4"},
		{name: "private forwarded fallback", remote: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "garbage, 172.16.0.9"}, trust: true, want: "172.16.0.9"},
		{name: "real ip header", remote: "10.0.0.1:80", headers: map[string]string{"X-Real-IP": "9.9.9.9"}, trust: true, want: "9.9.9.9"},
		{name: "unparseable remote", remote: "pipe", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tc.trust); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
