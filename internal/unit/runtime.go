// Package unit 实现计算单元的运行时。
// 每个计算单元按名称调用，拥有独立的超时、环境变量、凭据 Provider 和出站 HTTP 客户端：
// 位于网络区域内的单元只能经由区域出口拨号，区域外的单元使用默认出站路径。
// 超时是唯一的取消机制，运行时不做任何重试。
package unit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/sirupsen/logrus"
)

// Invocation 是一次计算单元调用的上下文。
type Invocation struct {
	// Spec 计算单元规格
	Spec domain.ComputeUnitSpec
	// Request 网关转发的请求
	Request *domain.UnitRequest
	// Env 单元可见的环境变量（普通变量和密钥引用，不含密钥值）
	Env map[string]string
	// Secrets 限定于该单元的凭据解析能力
	Secrets secrets.Provider
	// HTTPClient 按放置属性选择的出站客户端
	HTTPClient *http.Client
	// Logger 带单元和请求字段的日志
	Logger *logrus.Entry
}

// Handler 是计算单元的处理逻辑。
// 返回的 error 表示单元自身无法产生响应（如凭据或网络失败）；
// 业务校验失败应返回 4xx 的 UnitResponse 而不是 error。
type Handler interface {
	Invoke(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error)
}

// HandlerFunc 函数适配器。
type HandlerFunc func(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error)

// Invoke 实现 Handler。
func (f HandlerFunc) Invoke(ctx context.Context, inv *Invocation) (*domain.UnitResponse, error) {
	return f(ctx, inv)
}

// Recorder 记录调用结果，由指标模块实现。
type Recorder interface {
	RecordInvocation(unit, outcome string, duration time.Duration)
}

// ClientFactory 为区域内单元创建出站客户端，由网络区域模块提供。
type ClientFactory interface {
	HTTPClient(timeout time.Duration) *http.Client
}

// Config 运行时配置。
type Config struct {
	// Units 计算单元规格（已验证）
	Units []domain.ComputeUnitSpec
	// Builtins 内置处理器，键为 Handler 名称
	Builtins map[string]Handler
	// Broker 密钥访问代理
	Broker *secrets.Broker
	// Zones 区域名称 -> 区域出站客户端工厂
	Zones map[string]ClientFactory
	// DefaultClient 区域外单元的出站客户端；为空时使用 http.DefaultClient
	DefaultClient *http.Client
	// Instrument 包装区域客户端的传输层（如追踪），可选
	Instrument func(http.RoundTripper) http.RoundTripper
	// Logger 日志记录器
	Logger *logrus.Logger
	// Recorder 指标记录器，可选
	Recorder Recorder
}

// binding 是单元名称到处理器及其注入依赖的绑定，创建后不可变。
type binding struct {
	spec     domain.ComputeUnitSpec
	handler  Handler
	client   *http.Client
	provider secrets.Provider
	env      map[string]string
}

// Runtime 按名称调用计算单元。
type Runtime struct {
	units    map[string]*binding
	logger   *logrus.Logger
	recorder Recorder
}

// NewRuntime 创建运行时，为每个单元绑定处理器、出站客户端和凭据 Provider。
// 找不到内置处理器或区域时返回错误。
func NewRuntime(cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	defaultClient := cfg.DefaultClient
	if defaultClient == nil {
		defaultClient = http.DefaultClient
	}

	rt := &Runtime{
		units:    make(map[string]*binding, len(cfg.Units)),
		logger:   logger,
		recorder: cfg.Recorder,
	}

	for _, spec := range cfg.Units {
		if _, dup := rt.units[spec.Name]; dup {
			return nil, fmt.Errorf("unit %s: %w", spec.Name, domain.ErrInvalidUnit)
		}

		var h Handler
		switch {
		case spec.RemoteURL != "":
			h = NewRemoteHandler(spec.RemoteURL)
		default:
			builtin, ok := cfg.Builtins[spec.Handler]
			if !ok {
				return nil, fmt.Errorf("unit %s: handler %q: %w", spec.Name, spec.Handler, domain.ErrUnitNotFound)
			}
			h = builtin
		}

		client := defaultClient
		if spec.Zoned() {
			zone, ok := cfg.Zones[spec.Zone]
			if !ok {
				return nil, fmt.Errorf("unit %s: zone %q: %w", spec.Name, spec.Zone, domain.ErrZoneNotFound)
			}
			client = zone.HTTPClient(spec.Timeout())
			if cfg.Instrument != nil {
				client.Transport = cfg.Instrument(client.Transport)
			}
		}

		var provider secrets.Provider
		if cfg.Broker != nil {
			provider = cfg.Broker.ForUnit(spec.Name)
		}

		rt.units[spec.Name] = &binding{
			spec:     spec,
			handler:  h,
			client:   client,
			provider: provider,
			env:      spec.Environment(),
		}

		logger.WithFields(logrus.Fields{
			"unit":        spec.Name,
			"placement":   spec.Placement,
			"zone":        spec.Zone,
			"timeout_sec": spec.TimeoutSec,
			"memory_mb":   spec.MemoryMB,
			"remote":      spec.RemoteURL != "",
		}).Info("Compute unit bound")
	}
	return rt, nil
}

// Has 检查单元是否存在。
func (rt *Runtime) Has(name string) bool {
	_, ok := rt.units[name]
	return ok
}

// Spec 返回单元规格。
func (rt *Runtime) Spec(name string) (domain.ComputeUnitSpec, bool) {
	b, ok := rt.units[name]
	if !ok {
		return domain.ComputeUnitSpec{}, false
	}
	return b.spec, true
}

// Invoke 在单元超时内调用计算单元。
// 超时返回 ErrInvocationTimeout；处理器错误包装为 ErrInvocationFailed（保留原始错误链）。
func (rt *Runtime) Invoke(ctx context.Context, name string, req *domain.UnitRequest) (*domain.UnitResponse, error) {
	b, ok := rt.units[name]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", name, domain.ErrUnitNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, b.spec.Timeout())
	defer cancel()

	env := make(map[string]string, len(b.env))
	for k, v := range b.env {
		env[k] = v
	}
	inv := &Invocation{
		Spec:       b.spec,
		Request:    req,
		Env:        env,
		Secrets:    b.provider,
		HTTPClient: b.client,
		Logger: rt.logger.WithFields(logrus.Fields{
			"unit":       name,
			"request_id": req.RequestID,
		}),
	}

	start := time.Now()
	type result struct {
		resp *domain.UnitResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := b.handler.Invoke(ctx, inv)
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	duration := time.Since(start)

	if res.err == nil && res.resp == nil {
		res.err = errors.New("unit returned no response")
	}
	if res.err == nil && ctx.Err() != nil {
		res.err = ctx.Err()
	}

	switch {
	case res.err == nil:
		rt.record(name, "ok", duration)
		return res.resp, nil
	case errors.Is(res.err, context.DeadlineExceeded):
		rt.record(name, "timeout", duration)
		inv.Logger.WithField("timeout_sec", b.spec.TimeoutSec).Warn("Compute unit timed out")
		return nil, fmt.Errorf("unit %s: %w", name, domain.ErrInvocationTimeout)
	default:
		rt.record(name, "error", duration)
		inv.Logger.WithError(res.err).Error("Compute unit failed")
		return nil, fmt.Errorf("unit %s: %w: %w", name, domain.ErrInvocationFailed, res.err)
	}
}

func (rt *Runtime) record(unit, outcome string, d time.Duration) {
	if rt.recorder != nil {
		rt.recorder.RecordInvocation(unit, outcome, d)
	}
}
