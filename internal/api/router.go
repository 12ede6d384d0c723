// Package api 提供网关前门的 HTTP 入口。
// 该文件负责配置 chi 路由器和中间件链：追踪、请求 ID、真实 IP、访问日志、panic 恢复，
// 之后是跨域注解和全局准入，最后由网关处理器按路由表分发到计算单元。
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/paygate/internal/cors"
	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/events"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/telemetry"
	"github.com/oriys/paygate/internal/throttle"
	"github.com/sirupsen/logrus"
)

// Recorder 记录边缘请求指标，由指标模块实现。
type Recorder interface {
	RecordRequest(route, method string, status int, duration time.Duration)
	RecordLeakBlocked(unit string)
	throttle.Recorder
}

// RouterConfig 路由器配置选项
type RouterConfig struct {
	// Table 路由表（必填）
	Table *routing.Table
	// CORS 跨域策略引擎（必填）
	CORS *cors.Engine
	// Limiter 全局准入控制器（必填）
	Limiter throttle.Limiter
	// Invoker 计算单元调用入口（必填）
	Invoker Invoker
	// Checks 就绪检查，名称 -> 检查函数
	Checks map[string]Check
	// Metrics Prometheus 指标端点处理器（可选）
	Metrics http.Handler
	// Recorder 指标记录器（可选）
	Recorder Recorder
	// Auditor 审计事件发布器（可选）
	Auditor *events.Auditor
	// ServiceName 追踪中的服务名
	ServiceName string
	// MaxBodyBytes 请求体大小上限
	MaxBodyBytes int64
	// Logger 日志记录器
	Logger *logrus.Logger
}

// NewRouter 创建并配置 HTTP 路由器。
//
// 路由结构：
//
//	/health        - 基本健康检查
//	/health/ready  - 就绪探针（执行 Checks）
//	/health/live   - 存活探针
//	/metrics       - Prometheus 指标端点（配置了 Metrics 时）
//	/*             - 网关前门：跨域注解 -> 准入 -> 路由表分发
func NewRouter(cfg *RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = telemetry.DefaultServiceName
	}

	r := chi.NewRouter()

	// 中间件按照添加顺序执行，形成洋葱模型
	r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, cfg.Recorder, cfg.Table))
	r.Use(middleware.Recoverer)

	health := &healthHandler{checks: cfg.Checks, logger: logger}
	r.Get("/health", health.Health)
	r.Get("/health/ready", health.Ready)
	r.Get("/health/live", health.Live)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	gw := &Gateway{
		table:        cfg.Table,
		cors:         cfg.CORS,
		invoker:      cfg.Invoker,
		recorder:     cfg.Recorder,
		auditor:      cfg.Auditor,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}

	var throttleRecorder throttle.Recorder
	if cfg.Recorder != nil {
		throttleRecorder = cfg.Recorder
	}

	r.Group(func(g chi.Router) {
		// 跨域注解在准入之前，429 同样携带跨域头
		g.Use(cfg.CORS.Annotate)
		g.Use(throttle.Middleware(throttle.MiddlewareConfig{
			Limiter:  cfg.Limiter,
			Logger:   logger,
			Recorder: throttleRecorder,
			OnReject: func(req *http.Request, d throttle.Decision) {
				cfg.Auditor.ThrottleRejected(events.ThrottleRecord{
					RequestID:    middleware.GetReqID(req.Context()),
					Method:       req.Method,
					Path:         req.URL.Path,
					RetryAfterMs: d.RetryAfter.Milliseconds(),
				})
			},
		}))
		g.Handle("/*", gw)
	})

	for _, route := range cfg.Table.Routes() {
		logger.WithFields(logrus.Fields{
			"method": route.Method,
			"path":   route.Path,
			"unit":   route.Unit,
		}).Info("Route registered")
	}
	logger.WithField("origins", cfg.CORS.Policy().AllowOrigins).Info("CORS policy loaded")
	return r
}

// routeLabel 返回指标中的路由标签，未在路由表中的路径统一为 "unmatched"。
func routeLabel(table *routing.Table, path string) string {
	if table != nil && table.HasPath(path) {
		return path
	}
	switch path {
	case "/health", "/health/ready", "/health/live", "/metrics":
		return path
	}
	return "unmatched"
}

// corsHeaderSet 是计算单元不允许覆盖的响应头。
var corsHeaderSet = map[string]bool{
	http.CanonicalHeaderKey(domain.HeaderAllowOrigin):      true,
	http.CanonicalHeaderKey(domain.HeaderAllowHeaders):     true,
	http.CanonicalHeaderKey(domain.HeaderAllowMethods):     true,
	http.CanonicalHeaderKey(domain.HeaderAllowCredentials): true,
	http.CanonicalHeaderKey(domain.HeaderMaxAge):           true,
	"Vary": true,
}
