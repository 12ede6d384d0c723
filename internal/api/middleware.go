package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// requestLogger 返回访问日志中间件，同时记录请求指标。
// 日志只包含方法、路径、状态、字节数、耗时和请求 ID，不记录请求体或请求头。
func requestLogger(logger *logrus.Logger, recorder Recorder, table *routing.Table) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if recorder != nil {
				recorder.RecordRequest(routeLabel(table, r.URL.Path), r.Method, status, duration)
			}

			entry := telemetry.EntryWithTraceContext(r.Context(), logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": duration.Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"remote_addr": r.RemoteAddr,
			}))
			switch {
			case status >= 500:
				entry.Warn("Request completed")
			case r.URL.Path == "/health/live" || r.URL.Path == "/health/ready":
				entry.Debug("Request completed")
			default:
				entry.Info("Request completed")
			}
		})
	}
}
