package main

import (
	"context"
	"fmt"

	"github.com/oriys/paygate/internal/config"
	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/metrics"
	"github.com/oriys/paygate/internal/netzone"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/oriys/paygate/internal/throttle"
	"github.com/oriys/paygate/internal/unit"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// loadConfig 加载配置文件；文件不存在时回退到内置默认值。
func loadConfig(path string, logger *logrus.Logger) (*config.Config, error) {
	cfg, found, err := config.LoadOrDefault(path)
	if err == nil && !found {
		logger.WithField("path", path).Warn("Config file not found, using built-in defaults")
	}
	return cfg, err
}

// configureLogger 按配置设置日志级别和格式。
func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// warnOnDefaults 对沿用的部署默认值给出提示。
func warnOnDefaults(cfg *config.Config, logger *logrus.Logger) {
	if cfg.Throttle.RatePerSecond == 1 && cfg.Throttle.Burst == 2 {
		logger.WithFields(logrus.Fields{
			"rate_per_second": cfg.Throttle.RatePerSecond,
			"burst":           cfg.Throttle.Burst,
		}).Warn("Throttle uses the inherited 1 req/s, burst 2 limits; this is global across all clients")
	}
	if cfg.IsProduction() {
		for _, o := range cfg.CORS.AllowOrigins {
			if o == domain.DefaultCorsPolicy().AllowOrigins[0] {
				logger.WithField("origin", o).Warn("Production CORS policy allows the local development origin; set PAYGATE_CORS_ALLOW_ORIGINS")
			}
		}
	}
}

// newLimiter 按配置的后端创建准入控制器。
func newLimiter(cfg *config.Config, rdb *redis.Client, logger *logrus.Logger) (throttle.Limiter, error) {
	policy := cfg.Throttle.Policy()
	if cfg.Throttle.Backend == "memory" {
		return throttle.NewMemoryLimiter(policy, nil, logger)
	}
	return throttle.NewRedisLimiter(rdb, cfg.Throttle.Key, policy, nil)
}

// newSecretStore 按配置的后端创建凭据存储，返回的关闭函数总是非空。
func newSecretStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (secrets.Store, func(), error) {
	switch cfg.Secrets.Backend {
	case "memory":
		return secrets.NewMemoryStore(), func() {}, nil
	case "redis":
		return secrets.NewRedisStore(rdb, cfg.Secrets.KeyPrefix), func() {}, nil
	case "postgres":
		pg := cfg.Storage.Postgres
		store, err := secrets.OpenPostgresStore(ctx, pg.DSN(), pg.MaxConnections)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown secrets backend %q", cfg.Secrets.Backend)
}

// newZones 为每个网络区域补全子网规划并创建出站拨号器。
// 开启 Enforce 时在主机上下发出站规则，返回的清理函数在退出时撤销这些规则。
func newZones(ctx context.Context, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (map[string]unit.ClientFactory, func(), error) {
	zones := make(map[string]unit.ClientFactory, len(cfg.Network.Zones))
	var applied []*netzone.Provisioner
	teardown := func() {
		for _, p := range applied {
			if err := p.Teardown(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to remove zone egress rules")
			}
		}
	}

	for _, z := range cfg.Network.Zones {
		zone, err := netzone.Complete(z, cfg.Network.SubnetPrefix)
		if err != nil {
			teardown()
			return nil, nil, fmt.Errorf("zone %s: %w", z.Name, err)
		}

		if cfg.Network.Enforce {
			p := netzone.NewProvisioner(zone, nil, logger)
			if err := p.Apply(ctx); err != nil {
				teardown()
				return nil, nil, fmt.Errorf("zone %s: apply egress rules: %w", z.Name, err)
			}
			applied = append(applied, p)
		}

		d, err := netzone.NewDialer(netzone.DialerConfig{Zone: zone, Logger: logger, Recorder: m})
		if err != nil {
			teardown()
			return nil, nil, err
		}
		zones[zone.Name] = d

		logger.WithFields(logrus.Fields{
			"zone":     zone.Name,
			"cidr":     zone.CIDR,
			"private":  len(zone.SubnetsByTier(domain.TierPrivate)),
			"public":   len(zone.SubnetsByTier(domain.TierPublic)),
			"enforced": cfg.Network.Enforce,
		}).Info("Network zone ready")
	}
	return zones, teardown, nil
}
