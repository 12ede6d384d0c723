package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oriys/paygate/internal/cors"
	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/events"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/oriys/paygate/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// defaultMaxBodyBytes 请求体默认上限
const defaultMaxBodyBytes = 1 << 20

// Invoker 按名称调用计算单元，*unit.Runtime 实现该接口。
type Invoker interface {
	Invoke(ctx context.Context, unit string, req *domain.UnitRequest) (*domain.UnitResponse, error)
}

// forwardedHeaders 转发给计算单元的请求头；认证类请求头不转发。
var forwardedHeaders = []string{"Content-Type", "Accept", "User-Agent", "Origin"}

// Gateway 按路由表把请求分发到计算单元。
// 未知路径返回 404，已知路径的其他方法返回 405，已知路径的 OPTIONS 返回 204 预检。
// 计算单元的状态码按路由声明归一化，任何失败都以 500 返回，不会暴露内部错误。
type Gateway struct {
	table        *routing.Table
	cors         *cors.Engine
	invoker      Invoker
	recorder     Recorder
	auditor      *events.Auditor
	maxBodyBytes int64
	logger       *logrus.Logger
}

// ServeHTTP 实现 http.Handler。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodOptions && g.table.HasPath(path) {
		g.cors.Preflight().ServeHTTP(w, r)
		return
	}

	route, err := g.table.Resolve(path, r.Method)
	switch {
	case errors.Is(err, domain.ErrMethodNotAllowed):
		w.Header().Set("Allow", strings.Join(g.table.Methods(path), ", "))
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	case err != nil:
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	limit := g.maxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, r, route.NormalizeStatus(http.StatusRequestEntityTooLarge), "request body too large")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		writeError(w, r, http.StatusBadRequest, "request body must be JSON")
		return
	}

	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req := &domain.UnitRequest{
		RequestID: requestID,
		Method:    r.Method,
		Path:      path,
		Query:     r.URL.Query(),
		Headers:   make(map[string]string),
		SourceIP:  r.RemoteAddr,
	}
	if len(body) > 0 {
		req.Body = json.RawMessage(body)
	}
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Headers[name] = v
		}
	}

	g.dispatch(w, r, route, req)
}

// dispatch 调用计算单元并写回响应。
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, route domain.Route, req *domain.UnitRequest) {
	ctx, tracker := secrets.WithTracker(r.Context())
	ctx, span := telemetry.StartSpan(ctx, "unit "+route.Unit)
	span.SetAttributes(attribute.String("paygate.unit", route.Unit), attribute.String("paygate.request_id", req.RequestID))
	defer span.End()

	entry := telemetry.EntryWithTraceContext(ctx, g.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"unit":       route.Unit,
		"path":       route.Path,
	}))

	start := time.Now()
	resp, err := g.invoker.Invoke(ctx, route.Unit, req)
	duration := time.Since(start)

	status := http.StatusInternalServerError
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		if errors.Is(err, domain.ErrInvocationTimeout) {
			outcome = "timeout"
		}
		telemetry.RecordError(ctx, err)
		entry.WithError(err).Error("Unit invocation failed")
		writeError(w, r, status, "internal error")

	default:
		status = route.NormalizeStatus(resp.StatusCode)
		header := http.Header{}
		for k, v := range resp.Headers {
			if corsHeaderSet[http.CanonicalHeaderKey(k)] {
				continue
			}
			header.Set(k, v)
		}
		if tracker.Exposed(resp.Body, header) {
			outcome = "leak_blocked"
			status = http.StatusInternalServerError
			if g.recorder != nil {
				g.recorder.RecordLeakBlocked(route.Unit)
			}
			entry.Error("Unit response contained secret material, response withheld")
			writeError(w, r, status, "internal error")
			break
		}
		if status != resp.StatusCode {
			entry.WithFields(logrus.Fields{
				"unit_status": resp.StatusCode,
				"status":      status,
			}).Debug("Unit status normalized")
		}
		writeUnitResponse(w, status, header, resp.Body)
	}

	span.SetAttributes(attribute.Int("http.status_code", status), attribute.String("paygate.outcome", outcome))
	g.auditor.Invocation(events.InvocationRecord{
		RequestID:  req.RequestID,
		Unit:       route.Unit,
		Method:     req.Method,
		Path:       req.Path,
		Status:     status,
		Outcome:    outcome,
		DurationMs: duration.Milliseconds(),
	})
}

// writeUnitResponse 写入计算单元响应；跨域头已由中间件写入，这里只合并单元的其他响应头。
func writeUnitResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	dst := w.Header()
	for k, v := range header {
		dst[k] = v
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		w.Write(body)
	}
}

// ErrorResponse 是边缘错误响应体。
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
