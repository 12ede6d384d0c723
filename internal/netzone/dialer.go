package netzone

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Recorder 记录出站判定，由指标模块实现。
type Recorder interface {
	RecordEgress(zone string, allowed bool)
}

// DialerConfig 区域拨号器配置。
type DialerConfig struct {
	// Zone 网络区域（必填）
	Zone domain.NetworkZone
	// Forward 底层拨号器；为空时使用带防火墙标记的 net.Dialer
	Forward proxy.ContextDialer
	// Logger 日志记录器
	Logger *logrus.Logger
	// Recorder 指标记录器，可选
	Recorder Recorder
}

// Dialer 是区域内计算单元唯一的出站路径。
// 每次拨号先按出站规则检查，再经由出口网关建立连接：
// 网关提供 SOCKS5 地址时通过代理拨号，否则直接拨号并给套接字打上区域防火墙标记，
// 由主机策略路由送往网关。
type Dialer struct {
	zone     domain.NetworkZone
	policy   *EgressPolicy
	next     proxy.ContextDialer
	logger   *logrus.Logger
	recorder Recorder
}

// NewDialer 创建区域拨号器。
func NewDialer(cfg DialerConfig) (*Dialer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	forward := cfg.Forward
	if forward == nil {
		forward = &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   markControl(cfg.Zone.Gateway.FWMark),
		}
	}

	next := forward
	if addr := cfg.Zone.Gateway.ProxyAddress; addr != "" {
		d, err := proxy.SOCKS5("tcp", addr, nil, forwardDialer{forward})
		if err != nil {
			return nil, fmt.Errorf("zone %s: egress proxy %s: %w", cfg.Zone.Name, addr, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("zone %s: egress proxy dialer does not support context", cfg.Zone.Name)
		}
		next = cd
	}

	return &Dialer{
		zone:     cfg.Zone,
		policy:   NewEgressPolicy(cfg.Zone.Egress),
		next:     next,
		logger:   logger,
		recorder: cfg.Recorder,
	}, nil
}

// Zone 返回拨号器所属的区域。
func (d *Dialer) Zone() domain.NetworkZone {
	return d.zone
}

// DialContext 检查出站规则后建立连接。
// 被拒绝的连接返回包装了 domain.ErrEgressBlocked 的错误，不会发出任何数据包。
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.policy.Check(network, address); err != nil {
		d.record(false)
		d.logger.WithFields(logrus.Fields{
			"zone":    d.zone.Name,
			"network": network,
			"address": address,
		}).Warn("Egress blocked")
		return nil, err
	}
	d.record(true)
	conn, err := d.next.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("zone %s: dial %s: %w", d.zone.Name, address, err)
	}
	return conn, nil
}

// HTTPClient 返回所有连接都经由该拨号器的 HTTP 客户端。
// 环境中的 HTTP_PROXY 等设置被忽略，区域出口是唯一路径。
func (d *Dialer) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           d.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

func (d *Dialer) record(allowed bool) {
	if d.recorder != nil {
		d.recorder.RecordEgress(d.zone.Name, allowed)
	}
}

// forwardDialer 让 ContextDialer 满足 proxy.Dialer，供 SOCKS5 拨号器使用。
type forwardDialer struct {
	proxy.ContextDialer
}

func (f forwardDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}
