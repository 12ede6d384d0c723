package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/paygate/internal/cors"
	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/oriys/paygate/internal/throttle"
	"github.com/sirupsen/logrus"
)

const testOrigin = "http://localhost:3000"

// stubInvoker 按单元名称返回预设响应，并记录调用次数。
type stubInvoker struct {
	mu    sync.Mutex
	calls map[string]int
	last  *domain.UnitRequest
	fn    func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error)
}

func (s *stubInvoker) Invoke(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[unit]++
	s.last = req
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, unit, req)
	}
	return &domain.UnitResponse{StatusCode: http.StatusOK, Body: json.RawMessage(`{"ok":true}`)}, nil
}

func (s *stubInvoker) count(unit string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[unit]
}

type allowAll struct{}

func (allowAll) Allow(ctx context.Context) (throttle.Decision, error) {
	return throttle.Decision{Allowed: true}, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	requests map[string]int
	leaks    int
	rejected int
}

func (c *countingRecorder) RecordRequest(route, method string, status int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requests == nil {
		c.requests = map[string]int{}
	}
	c.requests[route]++
}

func (c *countingRecorder) RecordLeakBlocked(unit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaks++
}

func (c *countingRecorder) RecordThrottle(allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !allowed {
		c.rejected++
	}
}

type fixture struct {
	router   http.Handler
	invoker  *stubInvoker
	recorder *countingRecorder
}

func newFixture(t *testing.T, limiter throttle.Limiter, checks map[string]Check) *fixture {
	t.Helper()
	table, err := routing.NewTable(
		domain.NewRoute("/charges", http.MethodPost, "charges"),
		domain.NewRoute("/coinbase-proxy", http.MethodPost, "exchange-proxy"),
	)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	engine, err := cors.New(domain.DefaultCorsPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if limiter == nil {
		limiter = allowAll{}
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{invoker: &stubInvoker{}, recorder: &countingRecorder{}}
	f.router = NewRouter(&RouterConfig{
		Table:    table,
		CORS:     engine,
		Limiter:  limiter,
		Invoker:  f.invoker,
		Checks:   checks,
		Recorder: f.recorder,
		Logger:   logger,
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	for _, h := range domain.CORSResponseHeaders {
		if rec.Header().Get(h) == "" {
			t.Errorf("status %d missing %s", rec.Code, h)
		}
	}
	if got := rec.Header().Get(domain.HeaderAllowOrigin); got != testOrigin {
		t.Errorf("Allow-Origin = %q, want %q", got, testOrigin)
	}
}

func TestDispatchRoutes(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodPost, "/charges", `{"amount":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /charges = %d %s", rec.Code, rec.Body)
	}
	assertCORS(t, rec)
	if f.invoker.count("charges") != 1 || f.invoker.count("exchange-proxy") != 0 {
		t.Errorf("calls = %v", f.invoker.calls)
	}
	if string(f.invoker.last.Body) != `{"amount":10}` || f.invoker.last.RequestID == "" {
		t.Errorf("unit request = %+v", f.invoker.last)
	}

	rec = f.do(http.MethodPost, "/coinbase-proxy", `{"action":"getCandles"}`)
	if rec.Code != http.StatusOK || f.invoker.count("exchange-proxy") != 1 {
		t.Errorf("POST /coinbase-proxy = %d, calls = %v", rec.Code, f.invoker.calls)
	}
}

// TestPreflight 测试预检请求返回 204 且不调用计算单元。
func TestPreflight(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, path := range []string{"/charges", "/coinbase-proxy"} {
		rec := f.do(http.MethodOptions, path, "")
		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s = %d", path, rec.Code)
		}
		assertCORS(t, rec)
	}
	if n := f.invoker.count("charges") + f.invoker.count("exchange-proxy"); n != 0 {
		t.Errorf("preflight invoked units %d times", n)
	}
}

// TestRoutingMisses 测试 404 和 405 同样携带跨域头。
func TestRoutingMisses(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodPost, "/refunds", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST /refunds = %d", rec.Code)
	}
	assertCORS(t, rec)

	rec = f.do(http.MethodGet, "/charges", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /charges = %d", rec.Code)
	}
	assertCORS(t, rec)
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, "POST") || !strings.Contains(allow, "OPTIONS") {
		t.Errorf("Allow = %q", allow)
	}

	rec = f.do(http.MethodOptions, "/refunds", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("OPTIONS /refunds = %d", rec.Code)
	}
	if f.invoker.count("charges") != 0 {
		t.Errorf("routing miss invoked a unit")
	}
}

func TestDisallowedOrigin(t *testing.T) {
	f := newFixture(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/charges", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get(domain.HeaderAllowOrigin); got != "" {
		t.Errorf("Allow-Origin = %q for unlisted origin", got)
	}
	if rec.Header().Get("Vary") == "" {
		t.Errorf("Vary: Origin missing")
	}
}

// TestThrottle 测试突发容量耗尽后请求以 429 拒绝、携带跨域头且不调用计算单元。
func TestThrottle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter, err := throttle.NewMemoryLimiter(domain.ThrottlePolicy{RatePerSecond: 1, Burst: 2}, func() time.Time { return now }, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, limiter, nil)

	codes := []int{
		f.do(http.MethodPost, "/charges", `{}`).Code,
		f.do(http.MethodPost, "/coinbase-proxy", `{}`).Code,
	}
	rec := f.do(http.MethodPost, "/charges", `{}`)
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two = %v", codes)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third = %d, want 429", rec.Code)
	}
	assertCORS(t, rec)
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if got := f.invoker.count("charges") + f.invoker.count("exchange-proxy"); got != 2 {
		t.Errorf("units invoked %d times, want 2", got)
	}
	if f.recorder.rejected != 1 {
		t.Errorf("rejected = %d", f.recorder.rejected)
	}

	// 预检同样消耗令牌
	if rec := f.do(http.MethodOptions, "/charges", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("preflight while exhausted = %d", rec.Code)
	}
}

// TestStatusNormalization 测试未声明的状态码被归一化到声明集合。
func TestStatusNormalization(t *testing.T) {
	tests := []struct {
		unitStatus int
		want       int
	}{
		{http.StatusOK, http.StatusOK},
		{http.StatusBadRequest, http.StatusBadRequest},
		{http.StatusUnauthorized, http.StatusBadRequest},
		{http.StatusBadGateway, http.StatusInternalServerError},
		{http.StatusCreated, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newFixture(t, nil, nil)
		f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
			return &domain.UnitResponse{StatusCode: tt.unitStatus, Body: json.RawMessage(`{"error":"x"}`)}, nil
		}
		rec := f.do(http.MethodPost, "/charges", `{}`)
		if rec.Code != tt.want {
			t.Errorf("unit %d -> %d, want %d", tt.unitStatus, rec.Code, tt.want)
		}
		assertCORS(t, rec)
	}
}

// TestUnitFailureIsOpaque 测试单元失败返回 500 且不暴露内部错误。
func TestUnitFailureIsOpaque(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		return nil, errors.New("dial tcp 10.0.2.7:443: connection refused")
	}
	rec := f.do(http.MethodPost, "/coinbase-proxy", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	assertCORS(t, rec)
	if strings.Contains(rec.Body.String(), "10.0.2.7") {
		t.Errorf("internal error leaked: %s", rec.Body)
	}

	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		return nil, domain.ErrInvocationTimeout
	}
	if rec := f.do(http.MethodPost, "/charges", `{}`); rec.Code != http.StatusInternalServerError {
		t.Errorf("timeout status = %d", rec.Code)
	}
}

// TestSecretLeakBlocked 测试响应中出现已解析的凭据值时被替换为 500。
func TestSecretLeakBlocked(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		secrets.TrackerFrom(ctx).Add("super-secret-passphrase")
		return &domain.UnitResponse{StatusCode: http.StatusOK, Body: json.RawMessage(`{"echo":"super-secret-passphrase"}`)}, nil
	}
	rec := f.do(http.MethodPost, "/coinbase-proxy", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "super-secret-passphrase") {
		t.Errorf("secret in response: %s", rec.Body)
	}
	assertCORS(t, rec)
	if f.recorder.leaks != 1 {
		t.Errorf("leaks recorded = %d", f.recorder.leaks)
	}
}

// TestEscapedSecretLeakBlocked 测试计算单元以 JSON 编码回显凭据时同样被拦截。
func TestEscapedSecretLeakBlocked(t *testing.T) {
	const secret = "pa<ss>&phrase"
	f := newFixture(t, nil, nil)
	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		secrets.TrackerFrom(ctx).Add(secret)
		body, err := json.Marshal(map[string]string{"echo": secret})
		if err != nil {
			return nil, err
		}
		return &domain.UnitResponse{StatusCode: http.StatusOK, Body: body}, nil
	}
	rec := f.do(http.MethodPost, "/coinbase-proxy", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var decoded map[string]string
	if json.Unmarshal(rec.Body.Bytes(), &decoded) == nil {
		for _, v := range decoded {
			if v == secret {
				t.Errorf("secret in response: %s", rec.Body)
			}
		}
	}
	assertCORS(t, rec)
	if f.recorder.leaks != 1 {
		t.Errorf("leaks recorded = %d", f.recorder.leaks)
	}
}

// TestUnitCannotOverrideCORS 测试计算单元不能改写跨域头。
func TestUnitCannotOverrideCORS(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		return &domain.UnitResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"access-control-allow-origin": "*", "X-Charge-Id": "ABC"},
			Body:       json.RawMessage(`{}`),
		}, nil
	}
	rec := f.do(http.MethodPost, "/charges", `{}`)
	assertCORS(t, rec)
	if rec.Header().Get("X-Charge-Id") != "ABC" {
		t.Errorf("unit header dropped")
	}
}

func TestPanicRecoveredWithCORS(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.invoker.fn = func(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
		panic("boom")
	}
	rec := f.do(http.MethodPost, "/charges", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	assertCORS(t, rec)
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(http.MethodPost, "/charges", `{"amount":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	assertCORS(t, rec)
	if f.invoker.count("charges") != 0 {
		t.Errorf("invalid body reached the unit")
	}
}

func TestHealth(t *testing.T) {
	failing := false
	f := newFixture(t, nil, map[string]Check{
		"redis": func(ctx context.Context) error {
			if failing {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if rec := f.do(http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}

	failing = true
	rec := f.do(http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "redis") {
		t.Errorf("ready = %d %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("check error leaked: %s", rec.Body)
	}
}
