// Package cors 实现网关的跨域策略引擎。
// 跨域响应头是统一的响应整形关注点：成功和失败响应携带完全相同的头，
// 处理器不需要也不应该单独设置它们。
package cors

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/oriys/paygate/internal/domain"
)

// Engine 是跨域策略引擎，构造后不可变，可并发使用。
type Engine struct {
	policy  domain.CorsPolicy
	origins map[string]struct{}

	// 预先拼接好的响应头值
	allowMethods string
	allowHeaders string
	maxAge       string
}

// New 根据跨域策略创建引擎。
// 来源按精确字符串匹配，不做大小写或尾斜杠的归一化。
func New(policy domain.CorsPolicy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("cors policy: %w", err)
	}
	e := &Engine{
		policy:       policy,
		origins:      make(map[string]struct{}, len(policy.AllowOrigins)),
		allowMethods: strings.Join(policy.AllowMethods, ", "),
		allowHeaders: strings.Join(policy.AllowHeaders, ", "),
	}
	for _, o := range policy.AllowOrigins {
		e.origins[o] = struct{}{}
	}
	if policy.MaxAgeSec > 0 {
		e.maxAge = strconv.Itoa(policy.MaxAgeSec)
	}
	return e, nil
}

// Policy 返回引擎使用的策略。
func (e *Engine) Policy() domain.CorsPolicy {
	return e.policy
}

// Allowed 检查来源是否在允许列表中（精确匹配）。
func (e *Engine) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := e.origins[origin]
	return ok
}

// HeaderNames 返回每个路由状态都必须声明的跨域响应头名称。
func (e *Engine) HeaderNames() []string {
	return append([]string(nil), domain.CORSResponseHeaders...)
}

// Apply 为给定来源写入跨域响应头。
// 来源不在允许列表中时不写入任何放行头，由浏览器拦截，请求本身照常处理。
// 返回是否写入了放行头。
func (e *Engine) Apply(h http.Header, origin string) bool {
	// 响应随 Origin 变化，缓存需要区分
	h.Add("Vary", "Origin")
	if !e.Allowed(origin) {
		return false
	}
	h.Set(domain.HeaderAllowOrigin, origin)
	h.Set(domain.HeaderAllowHeaders, e.allowHeaders)
	h.Set(domain.HeaderAllowMethods, e.allowMethods)
	if e.policy.AllowCredentials {
		h.Set(domain.HeaderAllowCredentials, "true")
	}
	return true
}

// Annotate 返回跨域注解中间件。
// 在处理器运行前写入响应头，因此任何状态码（包括 429、404、405 和 panic 恢复后的 500）
// 都携带相同的跨域头。该中间件从不短路请求。
func (e *Engine) Annotate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Apply(w.Header(), r.Header.Get("Origin"))
		next.ServeHTTP(w, r)
	})
}

// Preflight 返回预检处理器，以 204 响应且从不调用计算单元。
// 跨域头通常已由 Annotate 写入；单独使用时这里补齐。
func (e *Engine) Preflight() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get(domain.HeaderAllowOrigin) == "" {
			e.Apply(h, r.Header.Get("Origin"))
		}
		if e.maxAge != "" && h.Get(domain.HeaderAllowOrigin) != "" {
			h.Set(domain.HeaderMaxAge, e.maxAge)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
