// Package exchange 实现内置的 exchange-proxy 计算单元。
// 单元按请求体中的 action 转发到交易所 API：getCandles 查询 K 线，placeOrder 下市价单。
// 每次调用都通过密钥引用重新解析 API 凭据，对请求签名后经由区域出口发出。
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/unit"
)

// EnvSecretRef 单元读取的密钥引用环境变量
const EnvSecretRef = "COINBASE_API_SECRET_REF"

const (
	// DefaultBaseURL 交易所沙箱 API 地址
	DefaultBaseURL = "https://api-public.sandbox.exchange.coinbase.com"

	ActionGetCandles = "getCandles"
	ActionPlaceOrder = "placeOrder"

	maxUpstreamBytes = 4 << 20
)

var tradingPairPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

// validGranularities 交易所支持的 K 线粒度（秒）
var validGranularities = map[int]bool{60: true, 300: true, 900: true, 3600: true, 21600: true, 86400: true}

// Request 是代理请求体，Action 决定使用哪些字段。
type Request struct {
	Action string `json:"action"`

	// getCandles
	TradingPair string `json:"tradingPair,omitempty"`
	Granularity int    `json:"granularity,omitempty"`

	// placeOrder
	Side      string `json:"side,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Type      string `json:"type,omitempty"`
	Size      string `json:"size,omitempty"`
	Funds     string `json:"funds,omitempty"`
}

// Config 单元配置。
type Config struct {
	BaseURL string
	// Clock 签名时间戳来源，为空时使用 time.Now
	Clock func() time.Time
}

// Handler 是 exchange-proxy 单元的处理器。
type Handler struct {
	baseURL string
	clock   func() time.Time
}

// New 创建 exchange-proxy 处理器。
func New(cfg Config) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Handler{baseURL: strings.TrimRight(cfg.BaseURL, "/"), clock: cfg.Clock}
}

var _ unit.Handler = (*Handler)(nil)

// upstreamCall 是一次待签名的交易所请求。
type upstreamCall struct {
	method string
	path   string
	body   string
	label  string
}

// Invoke 校验请求、解析凭据并转发到交易所。
// 校验失败返回 400；凭据缺失或不完整返回 error（网关映射为 500），且不会发出任何外部请求。
func (h *Handler) Invoke(ctx context.Context, inv *unit.Invocation) (*domain.UnitResponse, error) {
	var req Request
	if err := json.Unmarshal(inv.Request.Body, &req); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	call, msg := buildCall(&req)
	if msg != "" {
		return errorResponse(http.StatusBadRequest, msg), nil
	}

	creds, err := h.credentials(ctx, inv)
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(h.clock().Unix(), 10)
	signature, err := Sign(creds.Get(domain.SecretFieldAPISecret), timestamp, call.method, call.path, call.body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if call.body != "" {
		reader = strings.NewReader(call.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, call.method, h.baseURL+call.path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderAccessKey, creds.Get(domain.SecretFieldAPIKey))
	httpReq.Header.Set(HeaderAccessSign, signature)
	httpReq.Header.Set(HeaderAccessTimestamp, timestamp)
	httpReq.Header.Set(HeaderAccessPassphrase, creds.Get(domain.SecretFieldAPIPassphrase))

	resp, err := inv.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.label, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", call.label, err)
	}

	if resp.StatusCode != http.StatusOK {
		inv.Logger.WithField("status", resp.StatusCode).Errorf("Failed to %s", call.label)
		return errorResponse(resp.StatusCode, fmt.Sprintf("Failed to %s: %d", call.label, resp.StatusCode)), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: upstream returned invalid json", call.label)
	}
	return &domain.UnitResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       json.RawMessage(bytes.TrimSpace(raw)),
	}, nil
}

// credentials 按环境变量中的引用解析凭据包，每次调用都重新读取。
func (h *Handler) credentials(ctx context.Context, inv *unit.Invocation) (*domain.SecretBundle, error) {
	ref := inv.Env[EnvSecretRef]
	if ref == "" {
		return nil, fmt.Errorf("missing %s: %w", EnvSecretRef, domain.ErrSecretNotFound)
	}
	if inv.Secrets == nil {
		return nil, fmt.Errorf("%s: %w", ref, domain.ErrSecretAccessDenied)
	}
	bundle, err := inv.Secrets.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if missing := bundle.MissingFields(domain.ExchangeSecretFields...); len(missing) > 0 {
		return nil, fmt.Errorf("%s missing %s: %w", ref, strings.Join(missing, ","), domain.ErrSecretIncomplete)
	}
	return bundle, nil
}

// buildCall 校验请求并生成待签名的交易所请求；校验失败时返回错误信息。
func buildCall(req *Request) (upstreamCall, string) {
	switch req.Action {
	case ActionGetCandles:
		if !tradingPairPattern.MatchString(req.TradingPair) {
			return upstreamCall{}, "Invalid trading pair"
		}
		if !validGranularities[req.Granularity] {
			return upstreamCall{}, "Invalid granularity"
		}
		return upstreamCall{
			method: http.MethodGet,
			path:   fmt.Sprintf("/products/%s/candles?granularity=%d", req.TradingPair, req.Granularity),
			label:  "fetch candles",
		}, ""

	case ActionPlaceOrder:
		if req.ProductID == "" || req.Type == "" {
			return upstreamCall{}, "productId and type are required"
		}
		order := map[string]string{
			"side":       strings.ToLower(req.Side),
			"product_id": req.ProductID,
			"type":       req.Type,
		}
		switch strings.ToLower(req.Side) {
		case "buy":
			if req.Funds == "" {
				return upstreamCall{}, "Funds are required for market buy orders."
			}
			order["funds"] = req.Funds
		case "sell":
			if req.Size == "" {
				return upstreamCall{}, "Size is required for market sell orders."
			}
			order["size"] = req.Size
		default:
			return upstreamCall{}, "Invalid order side. Must be 'buy' or 'sell'."
		}
		body, err := json.Marshal(order)
		if err != nil {
			return upstreamCall{}, "Invalid order"
		}
		return upstreamCall{method: http.MethodPost, path: "/orders", body: string(body), label: "place order"}, ""
	}
	return upstreamCall{}, "Unsupported proxy request type"
}

func errorResponse(status int, msg string) *domain.UnitResponse {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return &domain.UnitResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       data,
	}
}
