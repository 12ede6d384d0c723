// Package domain 定义了支付网关前门的核心领域模型。
// 该包包含路由、计算单元、密钥、网络区域和边缘策略等实体的定义。
// 所有模型在部署（配置加载）时确定，运行期间不可变。
package domain

import (
	"net/http"
	"sort"
	"strings"
)

// CORS 响应头名称
const (
	// HeaderAllowOrigin 允许的来源
	HeaderAllowOrigin = "Access-Control-Allow-Origin"
	// HeaderAllowHeaders 允许的请求头
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
	// HeaderAllowMethods 允许的方法
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	// HeaderAllowCredentials 是否允许携带凭据
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	// HeaderMaxAge 预检结果缓存时间
	HeaderMaxAge = "Access-Control-Max-Age"
)

// CORSResponseHeaders 是每个声明的响应状态必须携带的 CORS 响应头集合。
var CORSResponseHeaders = []string{HeaderAllowOrigin, HeaderAllowHeaders, HeaderAllowMethods}

// DefaultStatuses 是当前路由面声明的响应状态码。
var DefaultStatuses = []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError}

// ResponseContract 描述某个状态码的响应契约（需要携带的响应头）。
type ResponseContract struct {
	// StatusCode HTTP 状态码
	StatusCode int `json:"status_code" yaml:"status_code"`
	// Headers 该状态必须携带的响应头名称
	Headers []string `json:"headers" yaml:"headers"`
}

// Route 表示路由表中的一条路由。
// (Path, Method) 在路由表内唯一，每个声明的状态码都必须携带完整的 CORS 响应头集合。
type Route struct {
	// Path 路径，如 "/charges"
	Path string `json:"path" yaml:"path"`
	// Method HTTP 方法，如 "POST"
	Method string `json:"method" yaml:"method"`
	// Unit 目标计算单元名称
	Unit string `json:"unit" yaml:"unit"`
	// Responses 声明的响应契约列表
	Responses []ResponseContract `json:"responses" yaml:"responses"`
}

// NewRoute 创建一条路由，为每个状态码绑定完整的 CORS 响应头集合。
// statuses 为空时使用 DefaultStatuses。
func NewRoute(path, method, unit string, statuses ...int) Route {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	r := Route{
		Path:   path,
		Method: strings.ToUpper(method),
		Unit:   unit,
	}
	for _, code := range statuses {
		r.Responses = append(r.Responses, ResponseContract{
			StatusCode: code,
			Headers:    append([]string(nil), CORSResponseHeaders...),
		})
	}
	return r
}

// Key 返回路由在路由表中的唯一键。
func (r Route) Key() string {
	return strings.ToUpper(r.Method) + " " + r.Path
}

// Clone 返回路由的深拷贝，保证不同注册之间没有共享的可变状态。
func (r Route) Clone() Route {
	out := Route{Path: r.Path, Method: r.Method, Unit: r.Unit}
	if r.Responses != nil {
		out.Responses = make([]ResponseContract, len(r.Responses))
		for i, rc := range r.Responses {
			out.Responses[i] = ResponseContract{
				StatusCode: rc.StatusCode,
				Headers:    append([]string(nil), rc.Headers...),
			}
		}
	}
	return out
}

// Statuses 返回声明的状态码（升序）。
func (r Route) Statuses() []int {
	codes := make([]int, 0, len(r.Responses))
	for _, rc := range r.Responses {
		codes = append(codes, rc.StatusCode)
	}
	sort.Ints(codes)
	return codes
}

// Declares 检查路由是否声明了给定状态码。
func (r Route) Declares(code int) bool {
	for _, rc := range r.Responses {
		if rc.StatusCode == code {
			return true
		}
	}
	return false
}

// RequiredStatuses 是每条路由都必须声明的状态码：网关自身会返回请求体无效（400）和内部失败（500）。
var RequiredStatuses = []int{http.StatusBadRequest, http.StatusInternalServerError}

// NormalizeStatus 将计算单元返回的状态码收敛到声明的契约内。
// 已声明的状态码原样返回；未声明的 4xx 映射为 400，其余映射为 500。
// 通过 Validate 的路由总是声明了 400 和 500，因此结果一定在契约内。
func (r Route) NormalizeStatus(code int) int {
	if r.Declares(code) {
		return code
	}
	if code >= 400 && code < 500 {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Validate 验证路由定义。
func (r Route) Validate() error {
	if r.Path == "" || !strings.HasPrefix(r.Path, "/") || r.Method == "" || r.Unit == "" {
		return ErrInvalidRoute
	}
	if strings.EqualFold(r.Method, http.MethodOptions) {
		// OPTIONS 由 CORS 预检处理，不能绑定到计算单元
		return ErrInvalidRoute
	}
	for _, code := range RequiredStatuses {
		if !r.Declares(code) {
			return ErrInvalidRoute
		}
	}
	for _, rc := range r.Responses {
		if !hasAllHeaders(rc.Headers, CORSResponseHeaders) {
			return ErrRouteMissingCORS
		}
	}
	return nil
}

// hasAllHeaders 检查 have 是否包含 want 中的全部响应头（大小写不敏感）。
func hasAllHeaders(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if http.CanonicalHeaderKey(h) == http.CanonicalHeaderKey(w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
