// Package throttle 实现边缘准入控制。
// 令牌桶对整个路由面全局生效：持续速率补充令牌，突发容量限制瞬时可用量。
// 生产环境的桶状态保存在 Redis 中，由 Lua 脚本原子更新，所有网关实例共享。
package throttle

import (
	"context"
	"time"
)

// Decision 是一次准入判定的结果。
type Decision struct {
	// Allowed 是否放行
	Allowed bool
	// RetryAfter 被拒绝时建议的重试等待时间，放行时为 0
	RetryAfter time.Duration
}

// Limiter 是准入控制器。
// 实现必须保证并发调用下的原子性：同一个令牌不会被两个请求消费。
type Limiter interface {
	Allow(ctx context.Context) (Decision, error)
}

// Clock 返回当前时间，测试中可替换为固定时钟。
type Clock func() time.Time
