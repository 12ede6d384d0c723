// Package charges 实现内置的 charges 计算单元：在支付商户平台上创建一次性收款链接。
package charges

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/unit"
)

// 单元读取的环境变量
const (
	EnvAPIKey          = "COINBASE_COMMERCE_API_KEY"
	EnvFrontendBaseURL = "FRONTEND_BASE_URL"
)

const (
	// DefaultBaseURL 商户平台 API 地址
	DefaultBaseURL = "https://api.commerce.coinbase.com"
	// DefaultAPIVersion 商户平台 API 版本
	DefaultAPIVersion = "2018-03-22"

	headerAPIKey     = "X-CC-Api-Key"
	headerAPIVersion = "X-CC-Version"

	maxUpstreamBytes = 1 << 20
)

// Input 是创建收款链接的请求体。
type Input struct {
	Amount        float64 `json:"amount"`
	Description   string  `json:"description,omitempty"`
	CustomerEmail string  `json:"customerEmail,omitempty"`
}

// PaymentLink 是返回给调用方的收款链接。
type PaymentLink struct {
	ID            string  `json:"id"`
	ChargeID      string  `json:"chargeId"`
	HostedURL     string  `json:"hostedUrl"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Description   string  `json:"description,omitempty"`
	CustomerEmail string  `json:"customerEmail,omitempty"`
	Status        string  `json:"status"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createCharge struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  localPrice        `json:"local_price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	CancelURL   string            `json:"cancel_url,omitempty"`
}

type chargeResponse struct {
	Data struct {
		Code      string `json:"code"`
		HostedURL string `json:"hosted_url"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}

// Config 单元配置。
type Config struct {
	BaseURL    string
	APIVersion string
}

// Handler 是 charges 单元的处理器。
type Handler struct {
	baseURL    string
	apiVersion string
}

// New 创建 charges 处理器。
func New(cfg Config) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return &Handler{baseURL: strings.TrimRight(cfg.BaseURL, "/"), apiVersion: cfg.APIVersion}
}

var _ unit.Handler = (*Handler)(nil)

// Invoke 校验金额，调用商户平台创建收款并返回收款链接。
// 请求体无效或金额不大于 0 时返回 400；上游失败返回 502（由路由契约归一化）。
func (h *Handler) Invoke(ctx context.Context, inv *unit.Invocation) (*domain.UnitResponse, error) {
	var in Input
	if len(bytes.TrimSpace(inv.Request.Body)) == 0 {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if err := json.Unmarshal(inv.Request.Body, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if in.Amount <= 0 {
		return errorResponse(http.StatusBadRequest, "Invalid amount"), nil
	}

	apiKey := inv.Env[EnvAPIKey]
	if apiKey == "" {
		return nil, fmt.Errorf("missing %s", EnvAPIKey)
	}

	inv.Logger.WithField("amount", in.Amount).Info("Creating charge")

	name := in.Description
	if name == "" {
		name = "Payment"
	}
	body := createCharge{
		Name:        name,
		Description: in.Description,
		PricingType: "fixed_price",
		LocalPrice:  localPrice{Amount: fmt.Sprintf("%.2f", in.Amount), Currency: "USD"},
		RedirectURL: inv.Env[EnvFrontendBaseURL],
		CancelURL:   inv.Env[EnvFrontendBaseURL],
	}
	if in.CustomerEmail != "" {
		body.Metadata = map[string]string{"customer_email": in.CustomerEmail}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, apiKey)
	req.Header.Set(headerAPIVersion, h.apiVersion)

	resp, err := inv.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("read charge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := upstreamMessage(raw)
		inv.Logger.WithField("status", resp.StatusCode).Error("Charge API error")
		return errorResponse(http.StatusBadGateway, "Coinbase API error: "+msg), nil
	}

	var cr chargeResponse
	if err := json.Unmarshal(raw, &cr); err != nil || cr.Data.Code == "" || cr.Data.HostedURL == "" {
		return errorResponse(http.StatusBadGateway, "Unexpected Coinbase response"), nil
	}

	return jsonResponse(http.StatusOK, PaymentLink{
		ID:            cr.Data.Code,
		ChargeID:      cr.Data.Code,
		HostedURL:     cr.Data.HostedURL,
		CreatedAt:     cr.Data.CreatedAt,
		Amount:        in.Amount,
		Currency:      "USD",
		Description:   in.Description,
		CustomerEmail: in.CustomerEmail,
		Status:        "pending",
	})
}

// upstreamMessage 提取上游错误体中的 error.message，取不到时返回原文。
func upstreamMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func jsonResponse(status int, v interface{}) (*domain.UnitResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return &domain.UnitResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       data,
	}, nil
}

func errorResponse(status int, msg string) *domain.UnitResponse {
	resp, _ := jsonResponse(status, map[string]string{"error": msg})
	return resp
}
