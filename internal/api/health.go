package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Check 是一项就绪检查，如 Redis 或凭据存储的连通性。
type Check func(ctx context.Context) error

// readyTimeout 就绪检查的整体超时
const readyTimeout = 3 * time.Second

type healthHandler struct {
	checks map[string]Check
	logger *logrus.Logger
}

// Health 基本健康检查。
// HTTP端点: GET /health
func (h *healthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready 就绪探针，依次执行所有检查。
// HTTP端点: GET /health/ready
//
// 返回值：
//   - 200: 所有检查通过
//   - 503: 任一检查失败，响应中列出失败项（不含错误细节）
func (h *healthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("Readiness check failed")
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live 存活探针。
// HTTP端点: GET /health/live
func (h *healthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
