package cors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/paygate/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(domain.DefaultCorsPolicy())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		credentials bool
	}{
		{name: "wildcard with credentials", origins: []string{"*"}, credentials: true},
		{name: "wildcard without credentials", origins: []string{"*"}},
		{name: "wildcard subdomain", origins: []string{"https://*.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.DefaultCorsPolicy()
			p.AllowOrigins = tt.origins
			p.AllowCredentials = tt.credentials
			if _, err := New(p); !errors.Is(err, domain.ErrInvalidCorsPolicy) {
				t.Fatalf("New() error = %v, want ErrInvalidCorsPolicy", err)
			}
		})
	}
}

// TestAnnotate 测试所有状态码都携带相同的跨域头。
func TestAnnotate(t *testing.T) {
	e := newTestEngine(t)

	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError, http.StatusTooManyRequests} {
		h := e.Annotate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		req := httptest.NewRequest(http.MethodPost, "/charges", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != status {
			t.Fatalf("status = %d, want %d", rec.Code, status)
		}
		if got := rec.Header().Get(domain.HeaderAllowOrigin); got != "http://localhost:3000" {
			t.Errorf("[%d] Allow-Origin = %q", status, got)
		}
		if got := rec.Header().Get(domain.HeaderAllowMethods); got != "POST, GET, OPTIONS" {
			t.Errorf("[%d] Allow-Methods = %q", status, got)
		}
		if got := rec.Header().Get(domain.HeaderAllowHeaders); got != "Content-Type, Authorization" {
			t.Errorf("[%d] Allow-Headers = %q", status, got)
		}
		if got := rec.Header().Get(domain.HeaderAllowCredentials); got != "true" {
			t.Errorf("[%d] Allow-Credentials = %q", status, got)
		}
	}
}

// TestAnnotateUnlistedOrigin 测试未列出的来源不获得放行头，但请求仍被处理。
func TestAnnotateUnlistedOrigin(t *testing.T) {
	e := newTestEngine(t)
	called := false
	h := e.Annotate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	for _, origin := range []string{"https://evil.example.com", "http://localhost:3000/", "HTTP://LOCALHOST:3000", ""} {
		called = false
		req := httptest.NewRequest(http.MethodPost, "/charges", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if !called {
			t.Errorf("origin %q: handler not called", origin)
		}
		for _, name := range e.HeaderNames() {
			if rec.Header().Get(name) != "" {
				t.Errorf("origin %q: unexpected %s", origin, name)
			}
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Errorf("origin %q: Vary = %q", origin, rec.Header().Get("Vary"))
		}
	}
}

func TestPreflight(t *testing.T) {
	p := domain.DefaultCorsPolicy()
	p.MaxAgeSec = 600
	e, err := New(p)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/coinbase-proxy", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	e.Preflight().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get(domain.HeaderAllowOrigin) != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get(domain.HeaderAllowOrigin))
	}
	if rec.Header().Get(domain.HeaderMaxAge) != "600" {
		t.Errorf("Max-Age = %q", rec.Header().Get(domain.HeaderMaxAge))
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight body = %q", rec.Body.String())
	}
}

// TestExactOriginOnly 测试来源按精确字符串匹配，且不带凭据时不发送凭据头。
func TestExactOriginOnly(t *testing.T) {
	e, err := New(domain.CorsPolicy{
		AllowOrigins: []string{"https://shop.example.com"},
		AllowMethods: []string{"POST"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, origin := range []string{"https://any.example.com", "https://shop.example.com/", "https://SHOP.example.com", "*"} {
		h := http.Header{}
		if e.Apply(h, origin) || h.Get(domain.HeaderAllowOrigin) != "" {
			t.Errorf("Apply(%q) allowed a non-listed origin", origin)
		}
	}
	h := http.Header{}
	if !e.Apply(h, "https://shop.example.com") {
		t.Fatal("Apply() = false for listed origin")
	}
	if h.Get(domain.HeaderAllowOrigin) != "https://shop.example.com" {
		t.Errorf("Allow-Origin = %q", h.Get(domain.HeaderAllowOrigin))
	}
	if h.Get(domain.HeaderAllowCredentials) != "" {
		t.Errorf("credentials header set without credentials")
	}
}
