package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/paygate/internal/api"
	"github.com/oriys/paygate/internal/cors"
	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/throttle"
	"github.com/oriys/paygate/internal/unit/charges"
	"github.com/oriys/paygate/internal/unit/exchange"
	"github.com/sirupsen/logrus"
)

const origin = "http://localhost:3000"

type fakeUnits struct{}

func (fakeUnits) Invoke(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
	switch unit {
	case "charges":
		var in charges.Input
		json.Unmarshal(req.Body, &in)
		if in.Amount <= 0 {
			return &domain.UnitResponse{StatusCode: http.StatusBadRequest, Body: json.RawMessage(`{"error":"Invalid amount"}`)}, nil
		}
		body, _ := json.Marshal(charges.PaymentLink{
			ID: "link-1", ChargeID: "ABCD", HostedURL: "https://commerce.example/pay/ABCD",
			Amount: in.Amount, Currency: "USD", Status: "pending",
		})
		return &domain.UnitResponse{StatusCode: http.StatusOK, Body: body}, nil
	case "exchange-proxy":
		return &domain.UnitResponse{StatusCode: http.StatusOK, Body: json.RawMessage(`[[1700000000,1,2,1.5,1.7,10]]`)}, nil
	}
	return nil, domain.ErrUnitNotFound
}

// newGateway 启动一个使用真实路由、跨域和令牌桶的网关。
func newGateway(t *testing.T, burst int) *httptest.Server {
	t.Helper()
	table, err := routing.NewTable(
		domain.NewRoute("/charges", http.MethodPost, "charges"),
		domain.NewRoute("/coinbase-proxy", http.MethodPost, "exchange-proxy"),
	)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := cors.New(domain.DefaultCorsPolicy())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	limiter, err := throttle.NewMemoryLimiter(domain.ThrottlePolicy{RatePerSecond: 1, Burst: burst}, func() time.Time { return now }, nil)
	if err != nil {
		t.Fatal(err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := httptest.NewServer(api.NewRouter(&api.RouterConfig{
		Table:   table,
		CORS:    engine,
		Limiter: limiter,
		Invoker: fakeUnits{},
		Logger:  logger,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateCharge(t *testing.T) {
	srv := newGateway(t, 10)
	c := New(srv.URL, WithOrigin(origin))

	link, err := c.CreateCharge(context.Background(), &charges.Input{Amount: 12.5})
	if err != nil {
		t.Fatalf("CreateCharge() error = %v", err)
	}
	if link.ChargeID != "ABCD" || link.Status != "pending" || link.Amount != 12.5 {
		t.Errorf("link = %+v", link)
	}

	_, err = c.CreateCharge(context.Background(), &charges.Input{Amount: 0})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid amount" {
		t.Errorf("err = %v", err)
	}
}

func TestProxy(t *testing.T) {
	srv := newGateway(t, 10)
	raw, err := New(srv.URL, WithOrigin(origin)).Proxy(context.Background(), &exchange.Request{
		Action: exchange.ActionGetCandles, TradingPair: "BTC-USD", Granularity: 3600,
	})
	if err != nil {
		t.Fatalf("Proxy() error = %v", err)
	}
	var candles [][]float64
	if err := json.Unmarshal(raw, &candles); err != nil || len(candles) != 1 {
		t.Errorf("candles = %s (%v)", raw, err)
	}
}

func TestThrottled(t *testing.T) {
	srv := newGateway(t, 1)
	c := New(srv.URL, WithOrigin(origin))

	if _, err := c.CreateCharge(context.Background(), &charges.Input{Amount: 1}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := c.CreateCharge(context.Background(), &charges.Input{Amount: 1})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("second call err = %v, want ErrThrottled", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %s", apiErr.RetryAfter)
	}
}

func TestReadyAndPreflight(t *testing.T) {
	srv := newGateway(t, 10)
	c := New(srv.URL, WithOrigin(origin))

	st, err := c.Ready(context.Background())
	if err != nil || st.Status != "ready" {
		t.Fatalf("Ready() = %+v, %v", st, err)
	}

	res, err := c.Preflight(context.Background(), "/charges", http.MethodPost)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed(origin) || res.AllowMethods == "" {
		t.Errorf("preflight = %+v", res)
	}

	res, err = New(srv.URL, WithOrigin("https://evil.example")).Preflight(context.Background(), "/charges", http.MethodPost)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed("https://evil.example") {
		t.Errorf("unlisted origin allowed: %+v", res)
	}
}
