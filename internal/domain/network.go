// Package domain 定义了支付网关前门的核心领域模型。
package domain

// SubnetTier 表示子网层级。
type SubnetTier string

const (
	// TierPublic 公有子网，出口网关所在层
	TierPublic SubnetTier = "public"
	// TierPrivate 私有子网，区域内计算单元所在层
	TierPrivate SubnetTier = "private"
)

// Subnet 表示网络区域内的一个子网。
type Subnet struct {
	// Name 子网名称
	Name string `json:"name" yaml:"name"`
	// Tier 子网层级（public/private）
	Tier SubnetTier `json:"tier" yaml:"tier"`
	// AvailabilityZone 所在故障域
	AvailabilityZone string `json:"availability_zone" yaml:"availability_zone"`
	// CIDR 地址范围，如 "10.0.0.0/24"
	CIDR string `json:"cidr" yaml:"cidr"`
}

// EgressGateway 表示区域唯一的共享出口网关。
// 私有子网的所有出站流量都经由它，以同一个公网地址离开。
type EgressGateway struct {
	// Subnet 网关所在的公有子网名称
	Subnet string `json:"subnet" yaml:"subnet"`
	// PublicIP 对外可见的固定出站地址，用于第三方白名单
	PublicIP string `json:"public_ip" yaml:"public_ip"`
	// ProxyAddress 网关的 SOCKS5 转发地址（host:port），为空时依赖主机路由
	ProxyAddress string `json:"proxy_address,omitempty" yaml:"proxy_address,omitempty"`
	// Interface 网关所在主机的外部网卡，用于 SNAT
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`
	// FWMark 区域出站连接的防火墙标记，主机据此做策略路由
	FWMark int `json:"fwmark,omitempty" yaml:"fwmark,omitempty"`
}

// EgressRule 表示区域出站规则：只按协议和端口限制，不限制目标地址。
type EgressRule struct {
	// Protocol 协议，当前只支持 "tcp"
	Protocol string `json:"protocol" yaml:"protocol"`
	// Ports 允许的目标端口
	Ports []int `json:"ports" yaml:"ports"`
}

// DefaultEgressRule 只允许 TCP 443。
func DefaultEgressRule() EgressRule {
	return EgressRule{Protocol: "tcp", Ports: []int{443}}
}

// NetworkZone 表示两层网络边界（公有 + 私有子网，跨多个故障域）。
// 放入私有子网的计算单元共享区域唯一的出口地址。
type NetworkZone struct {
	// Name 区域名称
	Name string `json:"name" yaml:"name"`
	// CIDR 区域地址范围
	CIDR string `json:"cidr" yaml:"cidr"`
	// AvailabilityZones 故障域列表
	AvailabilityZones []string `json:"availability_zones" yaml:"availability_zones"`
	// Subnets 子网列表
	Subnets []Subnet `json:"subnets" yaml:"subnets"`
	// Gateway 共享出口网关
	Gateway EgressGateway `json:"gateway" yaml:"gateway"`
	// Egress 出站规则
	Egress EgressRule `json:"egress" yaml:"egress"`
}

// SubnetsByTier 返回指定层级的子网。
func (z NetworkZone) SubnetsByTier(tier SubnetTier) []Subnet {
	var out []Subnet
	for _, s := range z.Subnets {
		if s.Tier == tier {
			out = append(out, s)
		}
	}
	return out
}

// EgressAddress 返回区域的固定出站地址。
func (z NetworkZone) EgressAddress() string {
	return z.Gateway.PublicIP
}
