package throttle

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Recorder 记录准入判定，由指标模块实现。
type Recorder interface {
	RecordThrottle(allowed bool)
}

// MiddlewareConfig 准入中间件配置。
type MiddlewareConfig struct {
	// Limiter 准入控制器（必填）
	Limiter Limiter
	// Logger 日志记录器
	Logger *logrus.Logger
	// Recorder 指标记录器，可选
	Recorder Recorder
	// OnReject 请求被拒绝后的回调（如发布审计事件），可选
	OnReject func(r *http.Request, d Decision)
}

// Middleware 返回准入中间件。
// 被拒绝的请求直接以 429 返回，不进入路由解析，也不调用任何计算单元。
// 准入控制器本身出错时拒绝请求并返回 500，不做静默放行。
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context())
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Error("Throttle backend unavailable")
				writeError(w, http.StatusInternalServerError, "admission control unavailable")
				return
			}
			if cfg.Recorder != nil {
				cfg.Recorder.RecordThrottle(d.Allowed)
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				logger.WithFields(logrus.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"retry_after": d.RetryAfter.String(),
				}).Debug("Request throttled")
				if cfg.OnReject != nil {
					cfg.OnReject(r, d)
				}
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
