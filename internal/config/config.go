// Package config 提供了支付网关前门的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如密码和商户密钥）。
// 配置包含了服务器、路由、计算单元、边缘策略、网络区域、密钥、存储、日志、指标和遥测等多个方面的设置。
// 所有配置在启动时加载一次，运行期间不可变。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"gopkg.in/yaml.v3"
)

// 内置计算单元与默认密钥引用
const (
	// UnitCharges 收款单元名称
	UnitCharges = "charges"
	// UnitExchangeProxy 交易所代理单元名称
	UnitExchangeProxy = "exchange-proxy"
	// DefaultExchangeSecretRef 交易所凭据的默认引用标识
	DefaultExchangeSecretRef = "paygate/coinbase-exchange"
	// DefaultZoneName 默认网络区域名称
	DefaultZoneName = "egress"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Environment 部署环境（development、staging、production）
	Environment string `yaml:"environment"`
	// Server 服务器配置，包括 HTTP 端口、指标端口等
	Server ServerConfig `yaml:"server"`
	// Routes 路由表
	Routes []RouteConfig `yaml:"routes"`
	// Units 计算单元规格
	Units []domain.ComputeUnitSpec `yaml:"units"`
	// Throttle 边缘限流配置
	Throttle ThrottleConfig `yaml:"throttle"`
	// CORS 跨域策略
	CORS domain.CorsPolicy `yaml:"cors"`
	// Network 网络区域配置
	Network NetworkConfig `yaml:"network"`
	// Secrets 密钥存储与授权配置
	Secrets SecretsConfig `yaml:"secrets"`
	// Upstreams 内置计算单元调用的第三方服务地址
	Upstreams UpstreamConfig `yaml:"upstreams"`
	// Storage 存储配置，包括 PostgreSQL 和 Redis 连接信息
	Storage StorageConfig `yaml:"storage"`
	// Events 事件配置，包括 NATS 消息队列连接信息
	Events EventsConfig `yaml:"events"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置结构体。
type ServerConfig struct {
	// HTTPPort 对外 HTTP 服务端口
	// 默认值：8080
	HTTPPort int `yaml:"http_port"`
	// MetricsPort 指标服务端口，与 HTTPPort 不同时单独启动指标服务器
	// 默认值：9090
	MetricsPort int `yaml:"metrics_port"`
	// ShutdownTimeout 优雅关闭超时时间
	// 默认值：30 秒
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ReadTimeout 读取请求超时
	// 默认值：30 秒
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout 写入响应超时，需大于最长的计算单元超时
	// 默认值：60 秒
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxBodyBytes 请求体大小上限
	// 默认值：1 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// RouteConfig 路由配置。
// 每个状态码都会绑定完整的 CORS 响应头集合。
type RouteConfig struct {
	// Path 路径，如 "/charges"
	Path string `yaml:"path"`
	// Method HTTP 方法
	Method string `yaml:"method"`
	// Unit 目标计算单元名称
	Unit string `yaml:"unit"`
	// Statuses 声明的响应状态码，默认 200/400/500
	Statuses []int `yaml:"statuses,omitempty"`
}

// ThrottleConfig 边缘限流配置。
type ThrottleConfig struct {
	// Backend 令牌桶状态存储："redis"（跨实例共享）或 "memory"（单实例）
	// 默认值：redis
	Backend string `yaml:"backend"`
	// RatePerSecond 持续速率
	// 默认值：1
	RatePerSecond float64 `yaml:"rate_per_second"`
	// Burst 突发容量
	// 默认值：2
	Burst int `yaml:"burst"`
	// Key Redis 中令牌桶的键名
	// 默认值：throttle:global
	Key string `yaml:"key"`
}

// Policy 返回领域层的限流策略。
func (t ThrottleConfig) Policy() domain.ThrottlePolicy {
	return domain.ThrottlePolicy{RatePerSecond: t.RatePerSecond, Burst: t.Burst}
}

// NetworkConfig 网络区域配置。
type NetworkConfig struct {
	// Zones 网络区域列表；未声明子网的区域会按 SubnetPrefix 自动划分
	Zones []domain.NetworkZone `yaml:"zones"`
	// SubnetPrefix 自动划分子网时的前缀长度
	// 默认值：24
	SubnetPrefix int `yaml:"subnet_prefix"`
	// Enforce 启动时是否在主机上下发出站规则（需要 root 权限）
	Enforce bool `yaml:"enforce"`
}

// Zone 按名称查找网络区域。
func (n NetworkConfig) Zone(name string) (domain.NetworkZone, bool) {
	for _, z := range n.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return domain.NetworkZone{}, false
}

// SecretsConfig 密钥存储与授权配置。
type SecretsConfig struct {
	// Backend 凭据存储后端：memory、redis、postgres
	// 默认值：redis
	Backend string `yaml:"backend"`
	// KeyPrefix Redis 后端的键前缀
	// 默认值：secret:
	KeyPrefix string `yaml:"key_prefix"`
	// Grants 按计算单元授予的只读权限
	Grants []domain.SecretGrant `yaml:"grants"`
	// Provision 启动时确保存在的凭据引用（已存在则不覆盖）
	Provision []string `yaml:"provision"`
}

// UpstreamConfig 内置计算单元调用的第三方服务配置。
type UpstreamConfig struct {
	// CommerceURL 收款服务地址
	CommerceURL string `yaml:"commerce_url"`
	// CommerceAPIVersion 收款服务 API 版本头
	CommerceAPIVersion string `yaml:"commerce_api_version"`
	// ExchangeURL 交易所 API 地址
	ExchangeURL string `yaml:"exchange_url"`
}

// StorageConfig 存储配置结构体。
type StorageConfig struct {
	// Postgres PostgreSQL 数据库配置
	Postgres PostgresConfig `yaml:"postgres"`
	// Redis Redis 配置
	Redis RedisConfig `yaml:"redis"`
}

// PostgresConfig PostgreSQL 数据库配置结构体。
type PostgresConfig struct {
	// Host 数据库主机地址
	Host string `yaml:"host"`
	// Port 数据库端口号
	Port int `yaml:"port"`
	// Database 数据库名称
	Database string `yaml:"database"`
	// User 数据库用户名
	User string `yaml:"user"`
	// Password 数据库密码，可通过环境变量 PAYGATE_POSTGRES_PASSWORD 或
	// PAYGATE_POSTGRES_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// SSLMode 连接的 sslmode
	SSLMode string `yaml:"ssl_mode"`
	// MaxConnections 最大连接数
	MaxConnections int `yaml:"max_connections"`
}

// DSN 返回 lib/pq 连接串。
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// RedisConfig Redis 配置结构体。
type RedisConfig struct {
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 PAYGATE_REDIS_PASSWORD 或
	// PAYGATE_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
}

// EventsConfig 事件配置结构体。
type EventsConfig struct {
	// NatsURL NATS 消息服务器 URL，如 "nats://localhost:4222"；为空时不发布审计事件
	NatsURL string `yaml:"nats_url"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址
	// 默认值：tempo:4317
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称
	// 默认值：paygate-gateway
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	// 默认值：0.1
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识，默认与顶层 Environment 相同
	Environment string `yaml:"environment"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，处理环境变量覆盖并验证结果。
//
// 参数：
//   - path: 配置文件的路径
//
// 返回值：
//   - *Config: 加载并处理后的配置对象
//   - error: 如果读取、解析或验证失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault 加载配置文件；文件不存在时返回内置默认配置，found 为 false。
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		return cfg, false, cfg.Validate()
	}
	return cfg, err == nil, err
}

// Parse 解析 YAML 配置内容。
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置（两条路由、两个内置计算单元、一个出口区域）。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// IsProduction 报告是否运行在生产环境。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DomainRoutes 将路由配置转换为领域路由。
func (c *Config) DomainRoutes() []domain.Route {
	routes := make([]domain.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, domain.NewRoute(r.Path, r.Method, r.Unit, r.Statuses...))
	}
	return routes
}

// Unit 按名称查找计算单元。
func (c *Config) Unit(name string) (domain.ComputeUnitSpec, bool) {
	for _, u := range c.Units {
		if u.Name == name {
			return u, true
		}
	}
	return domain.ComputeUnitSpec{}, false
}

// Validate 验证配置的完整性与一致性。
// 该方法同时为计算单元规格填充默认值（内存、超时、放置属性）。
func (c *Config) Validate() error {
	var errs []error

	if err := c.Throttle.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("throttle: %w", err))
	}
	switch c.Throttle.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("throttle: unknown backend %q", c.Throttle.Backend))
	}
	if err := c.CORS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cors: %w", err))
	}
	switch c.Secrets.Backend {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("secrets: unknown backend %q", c.Secrets.Backend))
	}

	units := make(map[string]*domain.ComputeUnitSpec, len(c.Units))
	for i := range c.Units {
		u := &c.Units[i]
		if err := u.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("unit %q: %w", u.Name, err))
			continue
		}
		if _, dup := units[u.Name]; dup {
			errs = append(errs, fmt.Errorf("unit %q: %w", u.Name, domain.ErrInvalidUnit))
			continue
		}
		if u.Zoned() {
			if _, ok := c.Network.Zone(u.Zone); !ok {
				errs = append(errs, fmt.Errorf("unit %q: zone %q: %w", u.Name, u.Zone, domain.ErrZoneNotFound))
			}
		}
		units[u.Name] = u
	}

	for _, r := range c.Routes {
		if err := domain.NewRoute(r.Path, r.Method, r.Unit, r.Statuses...).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("route %s %s: %w", r.Method, r.Path, err))
		}
		if _, ok := units[r.Unit]; !ok {
			errs = append(errs, fmt.Errorf("route %s %s: unit %q: %w", r.Method, r.Path, r.Unit, domain.ErrUnitNotFound))
		}
	}

	for _, g := range c.Secrets.Grants {
		u, ok := units[g.Unit]
		if !ok {
			errs = append(errs, fmt.Errorf("grant %s -> %s: %w", g.Unit, g.Ref, domain.ErrUnitNotFound))
			continue
		}
		if g.Ref == "" {
			errs = append(errs, fmt.Errorf("grant %s: empty ref: %w", g.Unit, domain.ErrInvalidUnit))
			continue
		}
		if !containsString(u.SecretRefs(), g.Ref) {
			errs = append(errs, fmt.Errorf("grant %s -> %s: unit does not reference secret: %w", g.Unit, g.Ref, domain.ErrInvalidUnit))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides 应用环境变量覆盖。
// 支持两种方式：
// 1. 直接设置环境变量（如 PAYGATE_POSTGRES_PASSWORD）
// 2. 通过 _FILE 后缀指定包含密钥的文件路径（如 PAYGATE_POSTGRES_PASSWORD_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
// 计算单元的普通环境变量支持 ${VAR} 展开，展开同样遵循 _FILE 优先。
func (c *Config) applyEnvOverrides() {
	if v := readEnvOrFileAny(
		[]string{"PAYGATE_POSTGRES_PASSWORD"},
		[]string{"PAYGATE_POSTGRES_PASSWORD_FILE"},
	); v != "" {
		c.Storage.Postgres.Password = v
	}
	if v := readEnvOrFileAny(
		[]string{"PAYGATE_REDIS_PASSWORD"},
		[]string{"PAYGATE_REDIS_PASSWORD_FILE"},
	); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYGATE_REDIS_ADDRESS")); v != "" {
		c.Storage.Redis.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYGATE_NATS_URL")); v != "" {
		c.Events.NatsURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYGATE_ENVIRONMENT")); v != "" {
		c.Environment = v
		c.Telemetry.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("PAYGATE_HTTP_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		}
	}
	// 生产部署通过环境变量替换开发用的来源
	if v := strings.TrimSpace(os.Getenv("PAYGATE_CORS_ALLOW_ORIGINS")); v != "" {
		c.CORS.AllowOrigins = splitList(v)
	}

	for i := range c.Units {
		for k, v := range c.Units[i].Env {
			c.Units[i].Env[k] = expandEnv(v)
		}
	}
}

// expandEnv 展开 ${VAR} 引用；VAR_FILE 指向的文件优先。
func expandEnv(value string) string {
	return os.Expand(value, func(key string) string {
		return readEnvOrFileAny([]string{key}, []string{key + "_FILE"})
	})
}

// readEnvOrFileAny 从环境变量或文件读取配置值。
// 优先从 fileKeys 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKeys 指定的环境变量读取。
//
// 参数：
//   - envKeys: 直接存储值的环境变量名（按优先级从高到低）
//   - fileKeys: 存储文件路径的环境变量名（按优先级从高到低）
//
// 返回值：
//   - string: 读取到的配置值，如果都未设置则返回空字符串
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}

	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}

	return ""
}

// applyDefaults 应用默认配置值。
// 未声明路由和计算单元时，使用收款与交易所代理两条内置路由。
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	// HTTP 端口默认为 8080
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	// 指标端口默认为 9090
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	// 优雅关闭超时默认为 30 秒
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// 写入超时需覆盖最长的单元超时（30 秒）
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	if len(c.Routes) == 0 {
		c.Routes = []RouteConfig{
			{Path: "/charges", Method: "POST", Unit: UnitCharges},
			{Path: "/coinbase-proxy", Method: "POST", Unit: UnitExchangeProxy},
		}
	}
	if len(c.Units) == 0 {
		c.Units = []domain.ComputeUnitSpec{
			{
				Name:       UnitCharges,
				Handler:    UnitCharges,
				MemoryMB:   512,
				TimeoutSec: 30,
				Env: map[string]string{
					"COINBASE_COMMERCE_API_KEY": "${PAYGATE_COMMERCE_API_KEY}",
					"FRONTEND_BASE_URL":         "http://localhost:3000",
				},
				Placement: domain.PlacementUnzoned,
			},
			{
				Name:       UnitExchangeProxy,
				Handler:    UnitExchangeProxy,
				MemoryMB:   512,
				TimeoutSec: 10,
				SecretEnv: map[string]string{
					"COINBASE_API_SECRET_REF": DefaultExchangeSecretRef,
				},
				Placement: domain.PlacementZoned,
				Zone:      DefaultZoneName,
			},
		}
		if len(c.Secrets.Grants) == 0 {
			c.Secrets.Grants = []domain.SecretGrant{{Unit: UnitExchangeProxy, Ref: DefaultExchangeSecretRef}}
		}
		if len(c.Secrets.Provision) == 0 {
			c.Secrets.Provision = []string{DefaultExchangeSecretRef}
		}
	}

	// 限流默认值沿用原部署（1 req/s，突发 2），启动时会给出警告
	if c.Throttle.Backend == "" {
		c.Throttle.Backend = "redis"
	}
	if c.Throttle.RatePerSecond == 0 {
		c.Throttle.RatePerSecond = 1
	}
	if c.Throttle.Burst == 0 {
		c.Throttle.Burst = 2
	}
	if c.Throttle.Key == "" {
		c.Throttle.Key = "throttle:global"
	}

	defaultCORS := domain.DefaultCorsPolicy()
	if len(c.CORS.AllowOrigins) == 0 && len(c.CORS.AllowMethods) == 0 && len(c.CORS.AllowHeaders) == 0 {
		c.CORS = defaultCORS
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = defaultCORS.AllowOrigins
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = defaultCORS.AllowMethods
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = defaultCORS.AllowHeaders
	}

	if len(c.Network.Zones) == 0 {
		c.Network.Zones = []domain.NetworkZone{{
			Name:              DefaultZoneName,
			CIDR:              "10.0.0.0/16",
			AvailabilityZones: []string{"zone-a", "zone-b"},
		}}
	}
	if c.Network.SubnetPrefix == 0 {
		c.Network.SubnetPrefix = 24
	}
	for i := range c.Network.Zones {
		z := &c.Network.Zones[i]
		if z.Egress.Protocol == "" && len(z.Egress.Ports) == 0 {
			z.Egress = domain.DefaultEgressRule()
		}
		if z.Gateway.FWMark == 0 {
			z.Gateway.FWMark = 0x1bb
		}
	}

	if c.Secrets.Backend == "" {
		c.Secrets.Backend = "redis"
	}
	if c.Secrets.KeyPrefix == "" {
		c.Secrets.KeyPrefix = "secret:"
	}

	if c.Upstreams.CommerceURL == "" {
		c.Upstreams.CommerceURL = "https://api.commerce.coinbase.com"
	}
	if c.Upstreams.CommerceAPIVersion == "" {
		c.Upstreams.CommerceAPIVersion = "2018-03-22"
	}
	if c.Upstreams.ExchangeURL == "" {
		c.Upstreams.ExchangeURL = "https://api-public.sandbox.exchange.coinbase.com"
	}

	if c.Storage.Redis.Address == "" {
		c.Storage.Redis.Address = "localhost:6379"
	}
	if c.Storage.Postgres.Host == "" {
		c.Storage.Postgres.Host = "localhost"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.Database == "" {
		c.Storage.Postgres.Database = "paygate"
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.Storage.Postgres.MaxConnections == 0 {
		c.Storage.Postgres.MaxConnections = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "paygate"
	}

	// 遥测服务名称默认为 paygate-gateway
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "paygate-gateway"
	}
	// OTLP 端点默认为 tempo:4317
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "tempo:4317"
	}
	// 采样率默认为 10%
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = c.Environment
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
