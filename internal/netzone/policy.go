package netzone

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/oriys/paygate/internal/domain"
)

// EgressPolicy 是区域的出站规则检查器。
// 只按协议和目标端口限制，不限制目标地址。
type EgressPolicy struct {
	protocol string
	ports    map[int]struct{}
}

// NewEgressPolicy 根据出站规则创建检查器。
func NewEgressPolicy(rule domain.EgressRule) *EgressPolicy {
	p := &EgressPolicy{
		protocol: strings.ToLower(rule.Protocol),
		ports:    make(map[int]struct{}, len(rule.Ports)),
	}
	for _, port := range rule.Ports {
		p.ports[port] = struct{}{}
	}
	return p
}

// Check 检查一次出站连接是否被允许。
// network 为 net.Dial 的网络名（tcp、tcp4、tcp6 视为 TCP）；address 为 host:port。
// 不允许时返回包装了 domain.ErrEgressBlocked 的错误。
func (p *EgressPolicy) Check(network, address string) error {
	proto := strings.TrimRight(strings.ToLower(network), "46")
	if proto != p.protocol {
		return fmt.Errorf("%w: %s to %s", domain.ErrEgressBlocked, network, address)
	}
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrEgressBlocked, address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: port %q", domain.ErrEgressBlocked, portStr)
	}
	if _, ok := p.ports[port]; !ok {
		return fmt.Errorf("%w: %s port %d", domain.ErrEgressBlocked, network, port)
	}
	return nil
}
