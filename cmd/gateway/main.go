// Package main 是支付网关前门服务的入口点。
// 网关负责接收浏览器的收款与交易所代理请求，经过跨域注解和全局准入后分发到计算单元。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/paygate/internal/api"
	"github.com/oriys/paygate/internal/config"
	"github.com/oriys/paygate/internal/cors"
	"github.com/oriys/paygate/internal/events"
	"github.com/oriys/paygate/internal/metrics"
	"github.com/oriys/paygate/internal/routing"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/oriys/paygate/internal/telemetry"
	"github.com/oriys/paygate/internal/unit"
	"github.com/oriys/paygate/internal/unit/charges"
	"github.com/oriys/paygate/internal/unit/exchange"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// main 初始化所有依赖组件并启动 HTTP 服务器
func main() {
	// 默认配置文件路径为 /etc/paygate/gateway.yaml，文件不存在时使用内置默认值
	configPath := flag.String("config", "/etc/paygate/gateway.yaml", "Path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	configureLogger(logger, cfg.Logging)

	logger.WithField("environment", cfg.Environment).Info("Starting PayGate gateway")
	warnOnDefaults(cfg, logger)

	// 遥测初始化失败不影响主服务运行，仅记录警告
	if cfg.Telemetry.Enabled {
		tel, err := telemetry.New(context.Background(), telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRate:  cfg.Telemetry.SampleRate,
			Environment: cfg.Telemetry.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
		} else {
			defer tel.Shutdown(context.Background())
			logger.AddHook(telemetry.NewLogrusHook())
			logger.WithFields(logrus.Fields{
				"endpoint":    cfg.Telemetry.Endpoint,
				"sample_rate": cfg.Telemetry.SampleRate,
			}).Info("Telemetry initialized")
		}
	}

	// 指标集合始终创建，Enabled 只控制是否对外暴露
	m := metrics.NewMetrics(cfg.Metrics.Namespace, nil)

	checks := make(map[string]api.Check)

	// Redis 同时服务于共享令牌桶和凭据存储
	var rdb *redis.Client
	if cfg.Throttle.Backend == "redis" || cfg.Secrets.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	limiter, err := newLimiter(cfg, rdb, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize throttle")
	}

	store, closeStore, err := newSecretStore(context.Background(), cfg, rdb)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize secret store")
	}
	defer closeStore()
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok && cfg.Secrets.Backend == "postgres" {
		checks["secrets"] = pinger.Ping
	}

	// 部署时确保凭据包存在；已存在的不覆盖
	for _, ref := range cfg.Secrets.Provision {
		res, err := secrets.Provision(context.Background(), store, ref)
		if err != nil {
			logger.WithError(err).WithField("ref", ref).Fatal("Failed to provision secret")
		}
		status, err := secrets.Inspect(context.Background(), store, ref)
		if err != nil {
			logger.WithError(err).WithField("ref", ref).Warn("Failed to inspect secret")
			continue
		}
		entry := logger.WithFields(logrus.Fields{"ref": ref, "created": res.Created})
		if !status.Complete {
			entry.WithField("missing", status.Missing).Warn("Secret bundle incomplete; populate it out of band before use")
		} else {
			entry.Info("Secret bundle ready")
		}
	}
	broker := secrets.NewBroker(store, cfg.Secrets.Grants, logger, m)

	zones, teardown, err := newZones(context.Background(), cfg, logger, m)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize network zones")
	}
	defer teardown()

	runtime, err := unit.NewRuntime(unit.Config{
		Units: cfg.Units,
		Builtins: map[string]unit.Handler{
			config.UnitCharges: charges.New(charges.Config{
				BaseURL:    cfg.Upstreams.CommerceURL,
				APIVersion: cfg.Upstreams.CommerceAPIVersion,
			}),
			config.UnitExchangeProxy: exchange.New(exchange.Config{
				BaseURL: cfg.Upstreams.ExchangeURL,
			}),
		},
		Broker:        broker,
		Zones:         zones,
		DefaultClient: telemetry.InstrumentedHTTPClient(),
		Instrument:    telemetry.HTTPClientTransport,
		Logger:        logger,
		Recorder:      m,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to bind compute units")
	}

	// 未配置 NATS 时审计器为空，所有记录被忽略
	var auditor *events.Auditor
	if cfg.Events.NatsURL != "" {
		bus, err := events.NewEventBus(cfg.Events.NatsURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to NATS, audit events disabled")
		} else {
			defer bus.Close()
			auditor = events.NewAuditor(bus, logger)
			checks["nats"] = bus.Ping
			defer auditor.Close()
		}
	}

	table, err := routing.NewTable(cfg.DomainRoutes()...)
	if err != nil {
		logger.WithError(err).Fatal("Invalid route table")
	}
	corsEngine, err := cors.New(cfg.CORS)
	if err != nil {
		logger.WithError(err).Fatal("Invalid CORS policy")
	}

	routerCfg := &api.RouterConfig{
		Table:        table,
		CORS:         corsEngine,
		Limiter:      limiter,
		Invoker:      runtime,
		Checks:       checks,
		Recorder:     m,
		Auditor:      auditor,
		ServiceName:  cfg.Telemetry.ServiceName,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	}
	// 指标端口与主服务端口相同时挂在主路由上
	if cfg.Metrics.Enabled && cfg.Server.MetricsPort == cfg.Server.HTTPPort {
		routerCfg.Metrics = promhttp.Handler()
	}
	router := api.NewRouter(routerCfg)

	// 指标端口与主服务端口不同时单独启动指标服务器，避免公开暴露
	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Server.MetricsPort != cfg.Server.HTTPPort {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.WithField("port", cfg.Server.MetricsPort).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("Metrics server failed")
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// 监听 SIGINT (Ctrl+C) 和 SIGTERM (容器停止) 信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 等待进行中的请求处理完成
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Metrics server shutdown error")
		}
	}

	logger.Info("Server stopped")
}
