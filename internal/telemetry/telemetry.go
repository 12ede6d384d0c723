// Package telemetry 提供 OpenTelemetry 分布式追踪的封装。
// 追踪数据通过 OTLP gRPC 导出；未启用时使用全局空操作追踪器，调用方无需区分。
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// 默认值
const (
	DefaultServiceName = "paygate-gateway"
	DefaultEndpoint    = "tempo:4317"
	DefaultSampleRate  = 0.1

	tracerName = "github.com/oriys/paygate"
)

// Config 遥测配置。
type Config struct {
	// Enabled 为 false 时跳过导出器初始化
	Enabled bool
	// Endpoint OTLP 接收器 gRPC 地址
	Endpoint string
	// ServiceName 服务名称
	ServiceName string
	// SampleRate 采样率 0.0 到 1.0
	SampleRate float64
	// Environment 运行环境
	Environment string
}

// Telemetry 持有追踪提供者和追踪器。
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// New 根据配置初始化追踪。
// 启用时建立到 OTLP 接收器的 gRPC 连接（10 秒超时），设置全局追踪提供者和 W3C 传播器。
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if !cfg.Enabled {
		return &Telemetry{config: cfg, tracer: otel.Tracer(tracerName)}, nil
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := newTracerProvider(exporter, res, cfg.SampleRate)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{config: cfg, tracerProvider: tp, tracer: tp.Tracer(tracerName)}, nil
}

// newTracerProvider 创建带父级采样策略的批量导出追踪提供者。
func newTracerProvider(exporter sdktrace.SpanExporter, res *resource.Resource, rate float64) *sdktrace.TracerProvider {
	var sampler sdktrace.Sampler
	switch {
	case rate >= 1:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Tracer 返回追踪器。
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// IsEnabled 返回是否启用了导出。
func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled
}

// Shutdown 刷新待发送的 Span 并关闭提供者，应在进程退出前调用。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Shutdown(ctx)
}

// StartSpan 在全局追踪器上创建子 Span。
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// TraceIDFromContext 返回上下文中的 Trace ID，没有有效 Span 时返回空字符串。
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// RecordError 在当前 Span 上记录错误。
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}
