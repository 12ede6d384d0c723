// Package domain 定义了支付网关前门的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 这些错误在路由、准入控制、计算单元、密钥和网络边界之间传递，
// 由 API 层统一映射为 HTTP 状态码。

var (
	// ========== 路由相关错误 ==========

	// ErrNoRoute 表示请求路径在路由表中不存在（映射为 404）
	ErrNoRoute = errors.New("no route")
	// ErrMethodNotAllowed 表示路径存在但方法不匹配（映射为 405）
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrDuplicateRoute 表示路由表中已存在相同的 (path, method)
	ErrDuplicateRoute = errors.New("route already registered")
	// ErrInvalidRoute 表示路由定义无效（路径、方法或目标单元为空）
	ErrInvalidRoute = errors.New("invalid route")
	// ErrRouteMissingCORS 表示某个声明的响应状态缺少 CORS 响应头
	ErrRouteMissingCORS = errors.New("declared status is missing cors headers")

	// ========== 准入控制相关错误 ==========

	// ErrThrottled 表示请求超出限流策略，在边缘被拒绝（映射为 429）
	ErrThrottled = errors.New("too many requests")
	// ErrInvalidThrottlePolicy 表示限流策略无效（速率和突发容量必须为正数）
	ErrInvalidThrottlePolicy = errors.New("invalid throttle policy: rate and burst must be positive")

	// ========== CORS 相关错误 ==========

	// ErrInvalidCorsPolicy 表示 CORS 策略无效
	ErrInvalidCorsPolicy = errors.New("invalid cors policy")

	// ========== 计算单元相关错误 ==========

	// ErrUnitNotFound 表示按名称找不到计算单元
	ErrUnitNotFound = errors.New("compute unit not found")
	// ErrInvalidUnit 表示计算单元规格无效
	ErrInvalidUnit = errors.New("invalid compute unit")
	// ErrInvalidMemory 表示内存配置超出有效范围（必须在 128MB 到 10240MB 之间）
	ErrInvalidMemory = errors.New("invalid memory: must be between 128MB and 10240MB")
	// ErrInvalidTimeout 表示超时配置超出有效范围（必须在 1 到 900 秒之间）
	ErrInvalidTimeout = errors.New("invalid timeout: must be between 1 and 900 seconds")
	// ErrSecretInEnv 表示环境变量与密钥引用冲突，可能嵌入了原始密钥
	ErrSecretInEnv = errors.New("environment must not carry secret values")
	// ErrInvocationTimeout 表示计算单元执行超时
	ErrInvocationTimeout = errors.New("invocation timed out")
	// ErrInvocationFailed 表示计算单元执行失败
	ErrInvocationFailed = errors.New("invocation failed")

	// ========== 密钥相关错误 ==========

	// ErrSecretNotFound 表示密钥引用在凭据存储中不存在
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretExists 表示尝试创建已存在的密钥
	ErrSecretExists = errors.New("secret already exists")
	// ErrSecretAccessDenied 表示计算单元没有该密钥的读取授权
	ErrSecretAccessDenied = errors.New("secret access denied")
	// ErrSecretMalformed 表示密钥内容不是合法的 JSON 字符串对象
	ErrSecretMalformed = errors.New("secret is malformed")
	// ErrInvalidSecretRef 表示密钥引用为空或格式非法
	ErrInvalidSecretRef = errors.New("invalid secret reference")
	// ErrSecretIncomplete 表示密钥字段尚未在带外填充
	ErrSecretIncomplete = errors.New("secret fields are not populated")

	// ========== 网络相关错误 ==========

	// ErrEgressBlocked 表示出站连接被网络边界策略拒绝
	ErrEgressBlocked = errors.New("egress blocked by network boundary")
	// ErrInvalidZone 表示网络区域定义无效
	ErrInvalidZone = errors.New("invalid network zone")
	// ErrZoneNotFound 表示计算单元引用了不存在的网络区域
	ErrZoneNotFound = errors.New("network zone not found")
)
