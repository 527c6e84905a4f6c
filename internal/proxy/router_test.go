package proxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWorkspaceIPIsDeterministicAndInSubnet(t *testing.T) {
	a := WorkspaceIP("workspace-a")
	b := WorkspaceIP("workspace-a")
	if !a.Equal(b) {
		t.Fatalf("WorkspaceIP not deterministic: %v vs %v", a, b)
	}
	if !a.To4()[0:2].Equal(net.IPv4(127, 18, 0, 0).To4()[0:2]) {
		t.Fatalf("expected 127.18.0.0/16, got %v", a)
	}
}

func TestWorkspaceIPDiffersByName(t *testing.T) {
	a := WorkspaceIP("workspace-a")
	b := WorkspaceIP("workspace-b")
	if a.Equal(b) {
		t.Fatal("expected different workspaces to map to different IPs (modulo rare collisions)")
	}
}

func backend(t *testing.T, addr, body string) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})}
	go srv.Serve(lis)
	t.Cleanup(func() { _ = srv.Close() })
	return lis
}

func TestRouterWorkspaceIsolationByHeader(t *testing.T) {
	ipA := WorkspaceIP("workspace-a").String()
	backend(t, net.JoinHostPort(ipA, "3000"), "ok-from-A")

	rt := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)
	req.Header.Set(headerWorkspace, "workspace-a")
	req.Header.Set(headerPort, "3000")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, _ := io.ReadAll(rec.Body); string(got) != "ok-from-A" {
		t.Fatalf("body = %q", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)
	req2.Header.Set(headerWorkspace, "workspace-b")
	req2.Header.Set(headerPort, "3000")
	rec2 := httptest.NewRecorder()
	rt.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusBadGateway {
		t.Fatalf("status for unbound workspace-b = %d, want 502", rec2.Code)
	}
}

func TestRouterWorkspaceSubdomain(t *testing.T) {
	ipA := WorkspaceIP("workspace-a").String()
	backend(t, net.JoinHostPort(ipA, "3002"), "ok-subdomain")

	rt := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "http://workspace-a-3002.localhost/", nil)
	req.Host = "workspace-a-3002.localhost"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, _ := io.ReadAll(rec.Body); string(got) != "ok-subdomain" {
		t.Fatalf("body = %q", got)
	}
}

func TestRouterStripsInternalHeadersBeforeForwarding(t *testing.T) {
	ipA := WorkspaceIP("workspace-strip").String()
	lis, err := net.Listen("tcp", net.JoinHostPort(ipA, "3001"))
	if err != nil {
		t.Fatal(err)
	}
	var sawWorkspaceHeader bool
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawWorkspaceHeader = r.Header.Get(headerWorkspace) != ""
		w.WriteHeader(http.StatusOK)
	})}
	go srv.Serve(lis)
	t.Cleanup(func() { _ = srv.Close() })

	rt := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)
	req.Header.Set(headerWorkspace, "workspace-strip")
	req.Header.Set(headerPort, "3001")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	time.Sleep(10 * time.Millisecond)
	if sawWorkspaceHeader {
		t.Fatal("expected workspace-selection header to be stripped before forwarding")
	}
}

func TestRouterNoMatchReturnsBadGateway(t *testing.T) {
	rt := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "http://unrelated.example.com/", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
