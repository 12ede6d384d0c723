package unit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type invocationRecord struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (r *invocationRecord) RecordInvocation(unit, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]string{}
	}
	r.outcomes[unit] = outcome
}

func (r *invocationRecord) get(unit string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[unit]
}

// zoneFactory 返回带标记的客户端，用于识别区域出站路径。
type zoneFactory struct{ client *http.Client }

func (f zoneFactory) HTTPClient(timeout time.Duration) *http.Client {
	c := *f.client
	c.Timeout = timeout
	return &c
}

func spec(name, handler string, timeoutSec int) domain.ComputeUnitSpec {
	return domain.ComputeUnitSpec{
		Name:       name,
		Handler:    handler,
		MemoryMB:   512,
		TimeoutSec: timeoutSec,
		Placement:  domain.PlacementUnzoned,
	}
}

func okResponse() *domain.UnitResponse {
	return &domain.UnitResponse{StatusCode: http.StatusOK, Body: json.RawMessage(`{"ok":true}`)}
}

func TestInvokeOK(t *testing.T) {
	rec := &invocationRecord{}
	var got *Invocation
	rt, err := NewRuntime(Config{
		Units: []domain.ComputeUnitSpec{spec("charges", "charges", 5)},
		Builtins: map[string]Handler{"charges": HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
			got = inv
			return okResponse(), nil
		})},
		Logger:   quietLogger(),
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	resp, err := rt.Invoke(context.Background(), "charges", &domain.UnitRequest{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if got.Spec.Name != "charges" || got.Request.RequestID != "req-1" {
		t.Errorf("invocation = %+v", got)
	}
	if got.HTTPClient != http.DefaultClient {
		t.Errorf("unzoned unit did not get the default client")
	}
	if rec.get("charges") != "ok" {
		t.Errorf("outcome = %q", rec.get("charges"))
	}
}

// TestInvokeTimeout 测试单元超时被取消且不重试。
func TestInvokeTimeout(t *testing.T) {
	rec := &invocationRecord{}
	var calls int
	var mu sync.Mutex
	rt, err := NewRuntime(Config{
		Units: []domain.ComputeUnitSpec{spec("slow", "slow", 1)},
		Builtins: map[string]Handler{"slow": HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			<-ctx.Done()
			return nil, ctx.Err()
		})},
		Logger:   quietLogger(),
		Recorder: rec,
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = rt.Invoke(context.Background(), "slow", &domain.UnitRequest{})
	if !errors.Is(err, domain.ErrInvocationTimeout) {
		t.Fatalf("Invoke() error = %v, want ErrInvocationTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if rec.get("slow") != "timeout" {
		t.Errorf("outcome = %q", rec.get("slow"))
	}
}

func TestInvokeFailure(t *testing.T) {
	boom := errors.New("upstream down")
	rt, err := NewRuntime(Config{
		Units: []domain.ComputeUnitSpec{spec("charges", "charges", 5)},
		Builtins: map[string]Handler{"charges": HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
			return nil, boom
		})},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = rt.Invoke(context.Background(), "charges", &domain.UnitRequest{})
	if !errors.Is(err, domain.ErrInvocationFailed) || !errors.Is(err, boom) {
		t.Errorf("Invoke() error = %v", err)
	}

	if _, err := rt.Invoke(context.Background(), "missing", &domain.UnitRequest{}); !errors.Is(err, domain.ErrUnitNotFound) {
		t.Errorf("Invoke(missing) error = %v", err)
	}
}

func TestNewRuntimeErrors(t *testing.T) {
	zoned := spec("exchange-proxy", "exchange", 10)
	zoned.Placement = domain.PlacementZoned
	zoned.Zone = "egress"

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown handler", Config{Units: []domain.ComputeUnitSpec{spec("a", "nope", 5)}}, domain.ErrUnitNotFound},
		{"unknown zone", Config{
			Units:    []domain.ComputeUnitSpec{zoned},
			Builtins: map[string]Handler{"exchange": HandlerFunc(nil)},
		}, domain.ErrZoneNotFound},
		{"duplicate unit", Config{
			Units:    []domain.ComputeUnitSpec{spec("a", "x", 5), spec("a", "x", 5)},
			Builtins: map[string]Handler{"x": HandlerFunc(nil)},
		}, domain.ErrInvalidUnit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			if _, err := NewRuntime(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("NewRuntime() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestPlacementSelectsClient 测试区域内单元使用区域出站客户端，区域外单元使用默认客户端。
func TestPlacementSelectsClient(t *testing.T) {
	zoneClient := &http.Client{}
	defaultClient := &http.Client{}
	clients := map[string]*http.Client{}
	var mu sync.Mutex
	capture := HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
		mu.Lock()
		clients[inv.Spec.Name] = inv.HTTPClient
		mu.Unlock()
		return okResponse(), nil
	})

	zoned := spec("exchange-proxy", "capture", 10)
	zoned.Placement = domain.PlacementZoned
	zoned.Zone = "egress"

	var instrumented bool
	rt, err := NewRuntime(Config{
		Units:         []domain.ComputeUnitSpec{spec("charges", "capture", 30), zoned},
		Builtins:      map[string]Handler{"capture": capture},
		Zones:         map[string]ClientFactory{"egress": zoneFactory{client: zoneClient}},
		DefaultClient: defaultClient,
		Instrument: func(rt http.RoundTripper) http.RoundTripper {
			instrumented = true
			return rt
		},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"charges", "exchange-proxy"} {
		if _, err := rt.Invoke(context.Background(), name, &domain.UnitRequest{}); err != nil {
			t.Fatalf("Invoke(%s) error = %v", name, err)
		}
	}

	if clients["charges"] != defaultClient {
		t.Errorf("charges did not use the default client")
	}
	if clients["exchange-proxy"] == defaultClient || clients["exchange-proxy"].Timeout != 10*time.Second {
		t.Errorf("exchange-proxy client = %+v", clients["exchange-proxy"])
	}
	if !instrumented {
		t.Errorf("zone client was not instrumented")
	}
}

// TestSecretsScopedToUnit 测试单元只能解析授予自己的凭据，环境变量中只有引用。
func TestSecretsScopedToUnit(t *testing.T) {
	store := secrets.NewMemoryStore()
	ref := "paygate/coinbase-exchange"
	if err := store.Create(context.Background(), &domain.SecretBundle{Ref: ref, Fields: map[string]string{
		domain.SecretFieldAPIKey:        "key-value",
		domain.SecretFieldAPISecret:     "c2VjcmV0LXZhbHVl",
		domain.SecretFieldAPIPassphrase: "pass-value",
	}}); err != nil {
		t.Fatal(err)
	}
	broker := secrets.NewBroker(store, []domain.SecretGrant{{Unit: "exchange-proxy", Ref: ref}}, quietLogger(), nil)

	results := map[string]error{}
	envs := map[string]map[string]string{}
	var mu sync.Mutex
	resolve := HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
		_, err := inv.Secrets.Resolve(ctx, ref)
		mu.Lock()
		results[inv.Spec.Name] = err
		envs[inv.Spec.Name] = inv.Env
		mu.Unlock()
		return okResponse(), nil
	})

	exchange := spec("exchange-proxy", "resolve", 10)
	exchange.SecretEnv = map[string]string{"COINBASE_API_SECRET_REF": ref}
	rt, err := NewRuntime(Config{
		Units:    []domain.ComputeUnitSpec{spec("charges", "resolve", 30), exchange},
		Builtins: map[string]Handler{"resolve": resolve},
		Broker:   broker,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"charges", "exchange-proxy"} {
		if _, err := rt.Invoke(context.Background(), name, &domain.UnitRequest{}); err != nil {
			t.Fatal(err)
		}
	}

	if results["exchange-proxy"] != nil {
		t.Errorf("exchange-proxy resolve error = %v", results["exchange-proxy"])
	}
	if !errors.Is(results["charges"], domain.ErrSecretAccessDenied) {
		t.Errorf("charges resolve error = %v, want ErrSecretAccessDenied", results["charges"])
	}
	if envs["exchange-proxy"]["COINBASE_API_SECRET_REF"] != ref {
		t.Errorf("env = %v", envs["exchange-proxy"])
	}
	for _, v := range envs["exchange-proxy"] {
		if v == "key-value" || v == "c2VjcmV0LXZhbHVl" || v == "pass-value" {
			t.Errorf("secret value in environment: %v", envs["exchange-proxy"])
		}
	}
}

// TestEnvIsolatedPerInvocation 测试单元修改 Env 不影响后续调用。
func TestEnvIsolatedPerInvocation(t *testing.T) {
	s := spec("charges", "mutate", 5)
	s.Env = map[string]string{"FRONTEND_BASE_URL": "http://localhost:3000"}
	var seen []string
	rt, err := NewRuntime(Config{
		Units: []domain.ComputeUnitSpec{s},
		Builtins: map[string]Handler{"mutate": HandlerFunc(func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
			seen = append(seen, inv.Env["FRONTEND_BASE_URL"])
			inv.Env["FRONTEND_BASE_URL"] = "http://evil.example"
			return okResponse(), nil
		})},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := rt.Invoke(context.Background(), "charges", &domain.UnitRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if seen[1] != "http://localhost:3000" {
		t.Errorf("second invocation saw %q", seen[1])
	}
}

func TestRemoteHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUnitName) != "charges" || r.Header.Get(HeaderUnitTimeout) != "30" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req domain.UnitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID != "req-9" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(domain.UnitResponse{StatusCode: http.StatusCreated, Body: json.RawMessage(`{"id":"x"}`)})
	}))
	defer srv.Close()

	s := spec("charges", "", 30)
	s.RemoteURL = srv.URL
	rt, err := NewRuntime(Config{Units: []domain.ComputeUnitSpec{s}, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := rt.Invoke(context.Background(), "charges", &domain.UnitRequest{RequestID: "req-9"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated || string(resp.Body) != `{"id":"x"}` {
		t.Errorf("resp = %d %s", resp.StatusCode, resp.Body)
	}

	h := NewRemoteHandler(srv.URL + "/?fail=1")
	_, err = h.Invoke(context.Background(), &Invocation{Spec: s, Request: &domain.UnitRequest{RequestID: "req-9"}})
	if err == nil {
		t.Errorf("remote 502 should be an error")
	}
}
