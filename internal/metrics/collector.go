// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义网关前门的关键指标（请求、准入、计算单元调用、凭据、出站等），便于在各模块复用并保持标签一致。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装网关运行时指标集合。
// 所有字段均为 Prometheus 指标类型，通过辅助方法更新指标值。
//
// 指标分类:
//   - 请求指标: 跟踪边缘请求的数量和耗时
//   - 准入指标: 统计令牌桶放行与拒绝
//   - 调用指标: 跟踪计算单元调用的结果和耗时
//   - 凭据指标: 统计凭据解析结果
//   - 出站指标: 统计区域出站拨号的放行与拦截
type Metrics struct {
	// ========== 请求相关指标 ==========

	// RequestsTotal 边缘请求总数
	// 标签: route, method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration 边缘请求耗时直方图（单位：毫秒）
	// 标签: route, method
	RequestDuration *prometheus.HistogramVec

	// ========== 准入相关指标 ==========

	// ThrottleDecisions 准入判定次数
	// 标签: result (allowed/rejected)
	ThrottleDecisions *prometheus.CounterVec

	// ========== 调用相关指标 ==========

	// InvocationsTotal 计算单元调用总次数
	// 标签: unit, outcome (ok/timeout/error)
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration 计算单元调用耗时直方图（单位：毫秒）
	// 标签: unit
	// 桶边界: 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000 ms
	InvocationDuration *prometheus.HistogramVec

	// ========== 凭据相关指标 ==========

	// SecretResolutions 凭据解析次数
	// 标签: unit, result (ok/denied/not_found/malformed/error)
	SecretResolutions *prometheus.CounterVec

	// LeaksBlocked 响应中检测到凭据值而被拦截的次数
	// 标签: unit
	LeaksBlocked *prometheus.CounterVec

	// ========== 出站相关指标 ==========

	// EgressDials 区域出站拨号次数
	// 标签: zone, result (allowed/blocked)
	EgressDials *prometheus.CounterVec
}

// NewMetrics 创建并注册一组 Prometheus 指标。
// namespace 用于作为所有指标名前缀；reg 为空时注册到默认注册表。
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of edge requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_ms",
				Help:      "Edge request duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"route", "method"},
		),
		ThrottleDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttle_decisions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"result"},
		),
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_invocations_total",
				Help:      "Total number of compute unit invocations",
			},
			[]string{"unit", "outcome"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_invocation_duration_ms",
				Help:      "Compute unit invocation duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"unit"},
		),
		SecretResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secret_resolutions_total",
				Help:      "Total number of secret resolutions by result",
			},
			[]string{"unit", "result"},
		),
		LeaksBlocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secret_leaks_blocked_total",
				Help:      "Responses withheld because they contained secret material",
			},
			[]string{"unit"},
		),
		EgressDials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "egress_dials_total",
				Help:      "Total number of zone egress dials",
			},
			[]string{"zone", "result"},
		),
	}
}

// RecordRequest 记录一次边缘请求。route 为路由路径，未命中时为 "unmatched"。
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordThrottle 记录一次准入判定。
func (m *Metrics) RecordThrottle(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.ThrottleDecisions.WithLabelValues(result).Inc()
}

// RecordInvocation 记录一次计算单元调用。
func (m *Metrics) RecordInvocation(unit, outcome string, duration time.Duration) {
	m.InvocationsTotal.WithLabelValues(unit, outcome).Inc()
	m.InvocationDuration.WithLabelValues(unit).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordSecretResolution 记录一次凭据解析结果。
func (m *Metrics) RecordSecretResolution(unit, result string) {
	m.SecretResolutions.WithLabelValues(unit, result).Inc()
}

// RecordLeakBlocked 记录一次凭据泄露拦截。
func (m *Metrics) RecordLeakBlocked(unit string) {
	m.LeaksBlocked.WithLabelValues(unit).Inc()
}

// RecordEgress 记录一次区域出站判定。
func (m *Metrics) RecordEgress(zone string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	m.EgressDials.WithLabelValues(zone, result).Inc()
}
