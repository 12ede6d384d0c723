package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware 为入站请求创建 Span，并从请求头提取上游追踪上下文。
// Span 名称为 "方法 路径"，如 "POST /charges"。
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanOptions(trace.WithAttributes(attribute.String("service.name", serviceName))),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			// 预检请求不产生 Span
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.Method != http.MethodOptions
			}),
		)
	}
}

// HTTPClientTransport 包装出站传输层，为每个出站请求创建客户端 Span 并注入追踪头。
// base 为空时使用 http.DefaultTransport。
func HTTPClientTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}

// InstrumentedHTTPClient 返回带追踪传输层的 HTTP 客户端，用于区域外计算单元的默认出站路径。
func InstrumentedHTTPClient() *http.Client {
	return &http.Client{Transport: HTTPClientTransport(nil)}
}
