// Package domain 定义了支付网关前门的核心领域模型。
package domain

import (
	"encoding/json"
	"time"
)

// Placement 表示计算单元的网络放置属性。
// 计算单元要么位于网络区域内（共享出口网关，固定出站地址），
// 要么位于区域外（默认出站路径，没有固定地址）。
type Placement string

const (
	// PlacementUnzoned 不放入网络区域，使用默认出站路径
	PlacementUnzoned Placement = "unzoned"
	// PlacementZoned 放入网络区域的私有子网，经由共享出口网关出站
	PlacementZoned Placement = "zoned"
)

// IsValid 检查放置属性是否有效。
func (p Placement) IsValid() bool {
	return p == PlacementUnzoned || p == PlacementZoned
}

// 资源限制常量
const (
	// MinMemoryMB 最小内存（MB）
	MinMemoryMB = 128
	// MaxMemoryMB 最大内存（MB）
	MaxMemoryMB = 10240
	// MinTimeoutSec 最小超时（秒）
	MinTimeoutSec = 1
	// MaxTimeoutSec 最大超时（秒）
	MaxTimeoutSec = 900
)

// ComputeUnitSpec 表示一个独立部署的计算单元规格。
// 环境变量中不得嵌入原始密钥值：需要密钥的单元只通过 SecretEnv 接收密钥引用，
// 在调用时再解析。
type ComputeUnitSpec struct {
	// Name 计算单元名称，路由通过名称调用
	Name string `json:"name" yaml:"name"`
	// Handler 处理器绑定：内置处理器名称（如 "charges"）
	Handler string `json:"handler" yaml:"handler"`
	// RemoteURL 远程后端地址；非空时通过 HTTP 调用远程计算单元
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`
	// MemoryMB 内存限制（MB）
	MemoryMB int `json:"memory_mb" yaml:"memory_mb"`
	// TimeoutSec 执行超时（秒），是唯一的取消机制
	TimeoutSec int `json:"timeout_sec" yaml:"timeout_sec"`
	// Env 普通环境变量
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// SecretEnv 环境变量名 -> 密钥引用，单元只看到引用标识
	SecretEnv map[string]string `json:"secret_env,omitempty" yaml:"secret_env,omitempty"`
	// Placement 网络放置属性
	Placement Placement `json:"placement" yaml:"placement"`
	// Zone 所在网络区域名称（仅 zoned 时有效）
	Zone string `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// Timeout 返回执行超时时长。
func (s ComputeUnitSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Zoned 报告计算单元是否位于网络区域内。
func (s ComputeUnitSpec) Zoned() bool {
	return s.Placement == PlacementZoned
}

// SecretRefs 返回单元引用的全部密钥标识。
func (s ComputeUnitSpec) SecretRefs() []string {
	refs := make([]string, 0, len(s.SecretEnv))
	for _, ref := range s.SecretEnv {
		refs = append(refs, ref)
	}
	return refs
}

// Environment 返回单元可见的环境变量：普通变量加上密钥引用（仅标识）。
func (s ComputeUnitSpec) Environment() map[string]string {
	env := make(map[string]string, len(s.Env)+len(s.SecretEnv))
	for k, v := range s.Env {
		env[k] = v
	}
	for k, ref := range s.SecretEnv {
		env[k] = ref
	}
	return env
}

// Validate 验证计算单元规格，并为可选参数设置默认值。
func (s *ComputeUnitSpec) Validate() error {
	if s.Name == "" {
		return ErrInvalidUnit
	}
	if s.Handler == "" && s.RemoteURL == "" {
		return ErrInvalidUnit
	}
	// 未指定内存时默认 512MB
	if s.MemoryMB == 0 {
		s.MemoryMB = 512
	}
	if s.MemoryMB < MinMemoryMB || s.MemoryMB > MaxMemoryMB {
		return ErrInvalidMemory
	}
	// 未指定超时时默认 30 秒
	if s.TimeoutSec == 0 {
		s.TimeoutSec = 30
	}
	if s.TimeoutSec < MinTimeoutSec || s.TimeoutSec > MaxTimeoutSec {
		return ErrInvalidTimeout
	}
	if s.Placement == "" {
		s.Placement = PlacementUnzoned
	}
	if !s.Placement.IsValid() {
		return ErrInvalidUnit
	}
	if s.Zoned() && s.Zone == "" {
		return ErrInvalidUnit
	}
	if !s.Zoned() && s.Zone != "" {
		return ErrInvalidUnit
	}
	for key, ref := range s.SecretEnv {
		if ref == "" {
			return ErrInvalidUnit
		}
		if _, ok := s.Env[key]; ok {
			return ErrSecretInEnv
		}
	}
	return nil
}

// UnitRequest 是网关传递给计算单元的请求。
type UnitRequest struct {
	// RequestID 请求唯一标识
	RequestID string `json:"request_id"`
	// Method HTTP 方法
	Method string `json:"method"`
	// Path 请求路径
	Path string `json:"path"`
	// Query 查询参数
	Query map[string][]string `json:"query,omitempty"`
	// Headers 转发的请求头
	Headers map[string]string `json:"headers,omitempty"`
	// Body 请求体
	Body json.RawMessage `json:"body,omitempty"`
	// SourceIP 客户端地址
	SourceIP string `json:"source_ip,omitempty"`
}

// UnitResponse 是计算单元返回给网关的响应。
type UnitResponse struct {
	// StatusCode HTTP 状态码
	StatusCode int `json:"status_code"`
	// Headers 响应头
	Headers map[string]string `json:"headers,omitempty"`
	// Body 响应体
	Body json.RawMessage `json:"body,omitempty"`
}
