package unit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/oriys/paygate/internal/domain"
)

// 转发给远程计算单元的资源限制请求头
const (
	HeaderUnitName    = "X-Paygate-Unit"
	HeaderUnitMemory  = "X-Paygate-Unit-Memory-MB"
	HeaderUnitTimeout = "X-Paygate-Unit-Timeout-Sec"
	HeaderRequestID   = "X-Request-ID"
)

// maxRemoteResponseBytes 远程单元响应的大小上限
const maxRemoteResponseBytes = 4 << 20

// RemoteHandler 通过 HTTP 调用远程部署的计算单元。
// 请求体为 UnitRequest 的 JSON，响应体为 UnitResponse 的 JSON。
// 远程单元使用 Invocation 中的出站客户端，因此同样受放置属性约束。
type RemoteHandler struct {
	url string
}

// NewRemoteHandler 创建远程处理器。
func NewRemoteHandler(url string) *RemoteHandler {
	return &RemoteHandler{url: strings.TrimRight(url, "/")}
}

// Invoke 实现 Handler。
func (h *RemoteHandler) Invoke(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
	data, err := json.Marshal(inv.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderUnitName, inv.Spec.Name)
	req.Header.Set(HeaderUnitMemory, strconv.Itoa(inv.Spec.MemoryMB))
	req.Header.Set(HeaderUnitTimeout, strconv.Itoa(inv.Spec.TimeoutSec))
	if inv.Request.RequestID != "" {
		req.Header.Set(HeaderRequestID, inv.Request.RequestID)
	}

	client := inv.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("remote unit http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out domain.UnitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if out.StatusCode == 0 {
		out.StatusCode = http.StatusOK
	}
	return &out, nil
}
