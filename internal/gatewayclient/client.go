// Package gatewayclient 提供访问支付网关前门 HTTP 接口的 Go 客户端封装。
// 该包将收款、交易所代理、就绪探针和跨域预检封装为结构化方法，供运维工具和集成测试复用。
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/unit/charges"
	"github.com/oriys/paygate/internal/unit/exchange"
)

// Client 是网关前门客户端。
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// Option 配置客户端。
type Option func(*Client)

// WithOrigin 为每个请求设置 Origin 请求头，模拟浏览器调用。
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New 创建一个新的客户端。
// baseURL 为空时默认使用 http://localhost:8080。
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrThrottled 表示请求被全局准入拒绝（429）。
var ErrThrottled = domain.ErrThrottled

// APIError 是网关返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter 仅在 429 时有值
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// Unwrap 让 errors.Is(err, ErrThrottled) 对 429 成立。
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrThrottled
	}
	return nil
}

// errorBody 是网关和计算单元返回的错误结构。
type errorBody struct {
	Error string `json:"error"`
}

// do 是内部通用请求方法，负责：
// - JSON 编码请求体并附加 Origin
// - 发起 HTTP 请求并解析 JSON 响应
// - 将 4xx/5xx 转换为 *APIError
func (c *Client) do(ctx context.Context, method, path string, body any, result any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return resp, apiErr
	}

	if result == nil {
		return resp, nil
	}
	if len(respBody) == 0 {
		return resp, errors.New("empty response body")
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return resp, nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return resp, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

// CreateCharge 创建一次性收款链接。
func (c *Client) CreateCharge(ctx context.Context, in *charges.Input) (*charges.PaymentLink, error) {
	var link charges.PaymentLink
	if _, err := c.do(ctx, http.MethodPost, "/charges", in, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// Proxy 通过交易所代理转发请求，原样返回交易所的 JSON 响应。
func (c *Client) Proxy(ctx context.Context, req *exchange.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, "/coinbase-proxy", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ReadyStatus 是就绪探针的结果。
type ReadyStatus struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

// Ready 查询就绪探针；未就绪时返回 *APIError（503）以及失败的检查项。
func (c *Client) Ready(ctx context.Context) (*ReadyStatus, error) {
	var st ReadyStatus
	_, err := c.do(ctx, http.MethodGet, "/health/ready", nil, &st)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		// 503 的响应体同样是 ReadyStatus
		var failed ReadyStatus
		if json.Unmarshal([]byte(apiErr.Message), &failed) == nil {
			return &failed, err
		}
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PreflightResult 是一次跨域预检的结果。
type PreflightResult struct {
	StatusCode   int
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
	RetryAfter   string
}

// Allowed 报告预检是否放行了 origin。
func (r *PreflightResult) Allowed(origin string) bool {
	return r.StatusCode == http.StatusNoContent && r.AllowOrigin == origin
}

// Preflight 对 path 发送 OPTIONS 预检。预检同样消耗全局准入令牌。
func (c *Client) Preflight(ctx context.Context, path, method string) (*PreflightResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	req.Header.Set("Access-Control-Request-Method", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return &PreflightResult{
		StatusCode:   resp.StatusCode,
		AllowOrigin:  resp.Header.Get("Access-Control-Allow-Origin"),
		AllowMethods: resp.Header.Get("Access-Control-Allow-Methods"),
		AllowHeaders: resp.Header.Get("Access-Control-Allow-Headers"),
		RetryAfter:   resp.Header.Get("Retry-After"),
	}, nil
}
