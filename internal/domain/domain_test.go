package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

// TestRoute_Validate 测试路由定义的验证。
func TestRoute_Validate(t *testing.T) {
	tests := []struct {
		name    string
		route   Route
		wantErr error
	}{
		{
			name:  "valid route",
			route: NewRoute("/charges", "post", "charges"),
		},
		{
			name:    "relative path",
			route:   NewRoute("charges", http.MethodPost, "charges"),
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "options bound to a unit",
			route:   NewRoute("/charges", http.MethodOptions, "charges"),
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "no unit",
			route:   NewRoute("/charges", http.MethodPost, ""),
			wantErr: ErrInvalidRoute,
		},
		{
			name: "declared status without cors headers",
			route: func() Route {
				r := NewRoute("/charges", http.MethodPost, "charges")
				r.Responses[0].Headers = []string{HeaderAllowOrigin}
				return r
			}(),
			wantErr: ErrRouteMissingCORS,
		},
		{
			name: "header names are case insensitive",
			route: func() Route {
				r := NewRoute("/charges", http.MethodPost, "charges")
				r.Responses[0].Headers = []string{
					"access-control-allow-origin", "ACCESS-CONTROL-ALLOW-HEADERS", "Access-Control-Allow-Methods",
				}
				return r
			}(),
		},
		{
			name:    "no declared statuses",
			route:   Route{Path: "/charges", Method: http.MethodPost, Unit: "charges"},
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "missing 500",
			route:   NewRoute("/charges", http.MethodPost, "charges", 200, 400),
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "missing 400",
			route:   NewRoute("/charges", http.MethodPost, "charges", 200, 500),
			wantErr: ErrInvalidRoute,
		},
		{
			name:  "extra declared status",
			route: NewRoute("/charges", http.MethodPost, "charges", 200, 202, 400, 500),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoute_NormalizeStatus(t *testing.T) {
	r := NewRoute("/coinbase-proxy", http.MethodPost, "exchange-proxy")
	cases := map[int]int{
		200: 200,
		400: 400,
		500: 500,
		201: 500,
		401: 400,
		404: 400,
		429: 400,
		502: 500,
		503: 500,
	}
	for in, want := range cases {
		if got := r.NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%d) = %d, want %d", in, got, want)
		}
	}

	// 任意状态码归一化后都必须落在合法路由声明的契约内
	wide := NewRoute("/x", http.MethodPost, "u", 200, 202, 400, 409, 500)
	if err := wide.Validate(); err != nil {
		t.Fatal(err)
	}
	for code := 100; code < 600; code++ {
		if got := wide.NormalizeStatus(code); !wide.Declares(got) {
			t.Errorf("NormalizeStatus(%d) = %d, not declared", code, got)
		}
	}
	if got := wide.NormalizeStatus(409); got != 409 {
		t.Errorf("NormalizeStatus(409) = %d", got)
	}
}

func TestRoute_Clone(t *testing.T) {
	r := NewRoute("/charges", http.MethodPost, "charges")
	c := r.Clone()
	c.Responses[0].Headers[0] = "X-Other"
	if r.Responses[0].Headers[0] != HeaderAllowOrigin {
		t.Error("Clone shares header slices with the original")
	}
	if got := r.Statuses(); fmt.Sprint(got) != "[200 400 500]" {
		t.Errorf("Statuses() = %v", got)
	}
}

// TestComputeUnitSpec_Validate 测试计算单元规格验证与默认值。
func TestComputeUnitSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ComputeUnitSpec
		wantErr error
	}{
		{name: "builtin defaults", spec: ComputeUnitSpec{Name: "charges", Handler: "charges"}},
		{name: "remote", spec: ComputeUnitSpec{Name: "r", RemoteURL: "http://fn/invoke"}},
		{name: "no handler", spec: ComputeUnitSpec{Name: "x"}, wantErr: ErrInvalidUnit},
		{name: "memory too small", spec: ComputeUnitSpec{Name: "x", Handler: "h", MemoryMB: 64}, wantErr: ErrInvalidMemory},
		{name: "timeout too long", spec: ComputeUnitSpec{Name: "x", Handler: "h", TimeoutSec: 901}, wantErr: ErrInvalidTimeout},
		{name: "zoned without zone", spec: ComputeUnitSpec{Name: "x", Handler: "h", Placement: PlacementZoned}, wantErr: ErrInvalidUnit},
		{name: "unzoned with zone", spec: ComputeUnitSpec{Name: "x", Handler: "h", Zone: "egress"}, wantErr: ErrInvalidUnit},
		{name: "unknown placement", spec: ComputeUnitSpec{Name: "x", Handler: "h", Placement: "dmz"}, wantErr: ErrInvalidUnit},
		{name: "empty secret ref", spec: ComputeUnitSpec{Name: "x", Handler: "h", SecretEnv: map[string]string{"REF": ""}}, wantErr: ErrInvalidUnit},
		{
			name: "secret env shadowed by plain env",
			spec: ComputeUnitSpec{
				Name: "x", Handler: "h",
				Env:       map[string]string{"REF": "raw-secret"},
				SecretEnv: map[string]string{"REF": "paygate/ref"},
			},
			wantErr: ErrSecretInEnv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := tt.spec
			err := spec.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if spec.MemoryMB != 512 || spec.TimeoutSec != 30 || spec.Placement != PlacementUnzoned {
				t.Errorf("defaults not applied: %+v", spec)
			}
		})
	}
}

func TestComputeUnitSpec_Environment(t *testing.T) {
	spec := ComputeUnitSpec{
		Env:       map[string]string{"A": "1"},
		SecretEnv: map[string]string{"SECRET_REF": "paygate/coinbase-exchange"},
	}
	env := spec.Environment()
	if env["A"] != "1" || env["SECRET_REF"] != "paygate/coinbase-exchange" {
		t.Errorf("Environment() = %v", env)
	}
	env["A"] = "changed"
	if spec.Env["A"] != "1" {
		t.Error("Environment() returned the spec's own map")
	}
}

// TestSecretBundle_Redaction 测试凭据包在格式化和序列化时不暴露字段值。
func TestSecretBundle_Redaction(t *testing.T) {
	b := &SecretBundle{Ref: "paygate/coinbase-exchange", Fields: map[string]string{
		SecretFieldAPIKey:        "key-123",
		SecretFieldAPISecret:     "c2VjcmV0",
		SecretFieldAPIPassphrase: "pass-456",
	}}

	outputs := []string{
		fmt.Sprint(b),
		fmt.Sprintf("%v", *b),
		fmt.Sprintf("%+v", b),
		fmt.Sprintf("%#v", b),
		b.String(),
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	outputs = append(outputs, string(data))

	for _, out := range outputs {
		for _, v := range b.Values() {
			if strings.Contains(out, v) {
				t.Errorf("output %q leaks %q", out, v)
			}
		}
		if !strings.Contains(out, "paygate/coinbase-exchange") {
			t.Errorf("output %q lost the ref", out)
		}
	}
}

func TestSecretBundle_Completeness(t *testing.T) {
	b := &SecretBundle{Ref: "r", Fields: map[string]string{
		SecretFieldAPIKey:        "",
		SecretFieldAPISecret:     "c2VjcmV0",
		SecretFieldAPIPassphrase: "  ",
	}}
	if b.Complete(ExchangeSecretFields...) {
		t.Error("Complete() = true with empty fields")
	}
	missing := b.MissingFields(ExchangeSecretFields...)
	if fmt.Sprint(missing) != "[apiKey apiPassphrase]" {
		t.Errorf("MissingFields() = %v", missing)
	}

	var nilBundle *SecretBundle
	if nilBundle.Complete(SecretFieldAPIKey) || nilBundle.Get(SecretFieldAPIKey) != "" || len(nilBundle.MissingFields(SecretFieldAPIKey)) != 1 {
		t.Error("nil bundle should be empty")
	}
}

func TestDecodeSecretString(t *testing.T) {
	b, err := DecodeSecretString("r", []byte(`{"apiKey":"k","apiSecret":"s","apiPassphrase":"p"}`))
	if err != nil || !b.Complete(ExchangeSecretFields...) {
		t.Fatalf("DecodeSecretString() = %v, %v", b, err)
	}
	for _, bad := range []string{`not json`, `null`, `["a"]`, `{"apiKey":1}`} {
		if _, err := DecodeSecretString("r", []byte(bad)); !errors.Is(err, ErrSecretMalformed) {
			t.Errorf("DecodeSecretString(%s) error = %v", bad, err)
		}
	}
	enc, err := EncodeSecretString(&SecretBundle{Ref: "r"})
	if err != nil || string(enc) != "{}" {
		t.Errorf("EncodeSecretString(empty) = %s, %v", enc, err)
	}
}

func TestPolicies_Validate(t *testing.T) {
	if err := (ThrottlePolicy{RatePerSecond: 1, Burst: 2}).Validate(); err != nil {
		t.Errorf("default throttle invalid: %v", err)
	}
	if err := (ThrottlePolicy{RatePerSecond: 0, Burst: 2}).Validate(); !errors.Is(err, ErrInvalidThrottlePolicy) {
		t.Errorf("zero rate error = %v", err)
	}
	if err := DefaultCorsPolicy().Validate(); err != nil {
		t.Errorf("default cors invalid: %v", err)
	}
	p := DefaultCorsPolicy()
	p.AllowOrigins = []string{"http://a.example, http://b.example"}
	if err := p.Validate(); !errors.Is(err, ErrInvalidCorsPolicy) {
		t.Errorf("comma-joined origin error = %v", err)
	}
	for _, o := range []string{"*", "https://*.example.com"} {
		p := DefaultCorsPolicy()
		p.AllowCredentials = false
		p.AllowOrigins = []string{o}
		if err := p.Validate(); !errors.Is(err, ErrInvalidCorsPolicy) {
			t.Errorf("wildcard origin %q error = %v", o, err)
		}
	}
}
