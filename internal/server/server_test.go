package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cmux/sandboxd/internal/auth"
	"github.com/cmux/sandboxd/internal/config"
)

func newTestServer(controlToken string, origins []string) *Server {
	return &Server{
		cfg:  &config.Config{AllowedOrigins: origins},
		auth: auth.NewTokenValidator(controlToken),
	}
}

func TestWithAuthOpenWhenNoSecret(t *testing.T) {
	s := newTestServer("", nil)
	called := false
	h := s.withAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if !called {
		t.Fatal("expected handler to run when no control token secret is configured")
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer("shared-secret", nil)
	h := s.withAuth(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler must not run") })

	req := httptest.NewRequest(http.MethodGet, "/sandboxes", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWithAuthAcceptsQueryToken(t *testing.T) {
	secret := "shared-secret"
	s := newTestServer(secret, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	called := false
	h := s.withAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/sandboxes/x/attach?token="+signed, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if !called {
		t.Fatalf("expected handler to run with a valid query token, got status %d", rec.Code)
	}
}

func TestBearerTokenFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestMatchWildcardOrigin(t *testing.T) {
	cases := []struct {
		origin, pattern string
		want            bool
	}{
		{"https://foo.example.com", "https://*.example.com", true},
		{"https://example.com", "https://*.example.com", false},
		{"https://foo.bar.example.com", "https://*.example.com", true},
		{"https://evil.com/https://x.example.com", "https://*.example.com", false},
	}
	for _, c := range cases {
		if got := matchWildcardOrigin(c.origin, c.pattern); got != c.want {
			t.Errorf("matchWildcardOrigin(%q, %q) = %v, want %v", c.origin, c.pattern, got, c.want)
		}
	}
}

func TestOriginAllowedExactAndWildcard(t *testing.T) {
	s := newTestServer("", []string{"https://app.example.com", "https://*.staging.example.com"})
	if !s.originAllowed("https://app.example.com") {
		t.Error("expected exact match to be allowed")
	}
	if !s.originAllowed("https://preview.staging.example.com") {
		t.Error("expected wildcard subdomain to be allowed")
	}
	if s.originAllowed("https://attacker.com") {
		t.Error("expected unrelated origin to be rejected")
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	if _, err := safeJoin("/workspace", "../etc/passwd"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
	if _, err := safeJoin("/workspace", "/etc/passwd"); err == nil {
		t.Fatal("expected absolute path escape to be rejected")
	}
	dest, err := safeJoin("/workspace", "src/main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest != "/workspace/src/main.go" {
		t.Fatalf("unexpected resolved path: %s", dest)
	}
}
