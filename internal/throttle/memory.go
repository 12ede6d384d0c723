package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MemoryLimiter 是进程内令牌桶，基于 golang.org/x/time/rate。
// 仅在单实例部署（开发、测试）中正确；多实例时每个实例各自计数，实际放行量会成倍放大。
type MemoryLimiter struct {
	// mu 保证预留与取消在同一临界区内完成
	mu      sync.Mutex
	limiter *rate.Limiter
	clock   Clock
}

// NewMemoryLimiter 创建进程内令牌桶，初始时桶是满的。
// logger 非空时会记录一条多实例下限流不准确的警告。
func NewMemoryLimiter(policy domain.ThrottlePolicy, clock Clock, logger *logrus.Logger) (*MemoryLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"rate_per_second": policy.RatePerSecond,
			"burst":           policy.Burst,
		}).Warn("Using in-process throttle; limits are per instance and under-enforce when scaled out")
	}
	return &MemoryLimiter{
		limiter: rate.NewLimiter(rate.Limit(policy.RatePerSecond), policy.Burst),
		clock:   clock,
	}, nil
}

// Allow 实现 Limiter。
// 令牌不足时撤销预留，被拒绝的请求不消耗令牌，RetryAfter 为补足一个令牌所需的时间。
func (l *MemoryLimiter) Allow(ctx context.Context) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}
