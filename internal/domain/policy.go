// Package domain 定义了支付网关前门的核心领域模型。
package domain

import (
	"net/http"
	"strings"
)

// ThrottlePolicy 表示边缘准入控制策略，对整个路由面统一生效，不按路由区分。
type ThrottlePolicy struct {
	// RatePerSecond 持续速率（每秒请求数），按此速率补充令牌
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	// Burst 突发容量，限制瞬时可用的令牌数
	Burst int `json:"burst" yaml:"burst"`
}

// Validate 验证限流策略。
func (p ThrottlePolicy) Validate() error {
	if p.RatePerSecond <= 0 || p.Burst <= 0 {
		return ErrInvalidThrottlePolicy
	}
	return nil
}

// CorsPolicy 表示跨域策略，通过预检和逐响应头作用于每条路由。
type CorsPolicy struct {
	// AllowOrigins 允许的来源（精确匹配）
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins"`
	// AllowMethods 允许的方法
	AllowMethods []string `json:"allow_methods" yaml:"allow_methods"`
	// AllowHeaders 允许的请求头
	AllowHeaders []string `json:"allow_headers" yaml:"allow_headers"`
	// AllowCredentials 是否允许携带凭据
	AllowCredentials bool `json:"allow_credentials" yaml:"allow_credentials"`
	// MaxAgeSec 预检结果缓存时间（秒），0 表示不发送
	MaxAgeSec int `json:"max_age_sec,omitempty" yaml:"max_age_sec,omitempty"`
}

// DefaultCorsPolicy 返回默认跨域策略（本地开发来源）。
func DefaultCorsPolicy() CorsPolicy {
	return CorsPolicy{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}
}

// Validate 验证跨域策略。
// 来源必须是精确字符串，不支持通配符。
func (p CorsPolicy) Validate() error {
	if len(p.AllowOrigins) == 0 || len(p.AllowMethods) == 0 {
		return ErrInvalidCorsPolicy
	}
	for _, o := range p.AllowOrigins {
		if o == "" || strings.ContainsAny(o, " ,") {
			return ErrInvalidCorsPolicy
		}
		if strings.Contains(o, "*") {
			return ErrInvalidCorsPolicy
		}
	}
	if p.MaxAgeSec < 0 {
		return ErrInvalidCorsPolicy
	}
	return nil
}
