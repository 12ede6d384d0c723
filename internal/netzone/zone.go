// Package netzone 实现计算单元的网络边界。
// 网络区域是两层结构：每个故障域一对公有/私有子网，唯一的出口网关位于公有子网。
// 放入区域的计算单元所有出站连接都经由出口网关，以同一个固定地址离开，
// 且只允许 TCP 443 出站；未放入区域的单元走默认出站路径，没有固定地址。
package netzone

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/oriys/paygate/internal/domain"
)

// Plan 为网络区域划分子网。
// 每个故障域依次得到一个公有子网和一个私有子网（按 prefixBits 切分 cidr），
// 出口网关放在第一个公有子网中。
//
// 参数：
//   - name: 区域名称
//   - cidr: 区域地址范围（IPv4）
//   - azs: 故障域列表，至少两个
//   - prefixBits: 子网前缀长度
//
// 返回值：
//   - domain.NetworkZone: 划分后的区域（出口规则为 TCP 443）
//   - error: 地址空间不足或参数无效时返回 ErrInvalidZone
func Plan(name, cidr string, azs []string, prefixBits int) (domain.NetworkZone, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil || !prefix.Addr().Is4() {
		return domain.NetworkZone{}, fmt.Errorf("%w: cidr %q", domain.ErrInvalidZone, cidr)
	}
	prefix = prefix.Masked()
	if len(azs) < 2 {
		return domain.NetworkZone{}, fmt.Errorf("%w: need at least two availability zones", domain.ErrInvalidZone)
	}
	if prefixBits <= prefix.Bits() || prefixBits > 30 {
		return domain.NetworkZone{}, fmt.Errorf("%w: subnet prefix /%d does not fit %s", domain.ErrInvalidZone, prefixBits, prefix)
	}
	capacity := 1 << (prefixBits - prefix.Bits())
	if capacity < 2*len(azs) {
		return domain.NetworkZone{}, fmt.Errorf("%w: %s holds %d /%d subnets, need %d",
			domain.ErrInvalidZone, prefix, capacity, prefixBits, 2*len(azs))
	}

	z := domain.NetworkZone{
		Name:              name,
		CIDR:              prefix.String(),
		AvailabilityZones: append([]string(nil), azs...),
		Egress:            domain.DefaultEgressRule(),
	}
	for i, az := range azs {
		z.Subnets = append(z.Subnets, domain.Subnet{
			Name:             fmt.Sprintf("%s-public-%s", name, az),
			Tier:             domain.TierPublic,
			AvailabilityZone: az,
			CIDR:             nthSubnet(prefix, prefixBits, i).String(),
		})
	}
	for i, az := range azs {
		z.Subnets = append(z.Subnets, domain.Subnet{
			Name:             fmt.Sprintf("%s-private-%s", name, az),
			Tier:             domain.TierPrivate,
			AvailabilityZone: az,
			CIDR:             nthSubnet(prefix, prefixBits, len(azs)+i).String(),
		})
	}
	z.Gateway.Subnet = z.Subnets[0].Name
	return z, nil
}

// Complete 补全配置中声明的区域：未声明子网时自动划分，保留已配置的网关和出口规则。
func Complete(z domain.NetworkZone, prefixBits int) (domain.NetworkZone, error) {
	if len(z.Subnets) == 0 {
		planned, err := Plan(z.Name, z.CIDR, z.AvailabilityZones, prefixBits)
		if err != nil {
			return domain.NetworkZone{}, err
		}
		gw := z.Gateway
		if gw.Subnet == "" {
			gw.Subnet = planned.Gateway.Subnet
		}
		planned.Gateway = gw
		if len(z.Egress.Ports) > 0 {
			planned.Egress = z.Egress
		}
		z = planned
	}
	if z.Egress.Protocol == "" {
		z.Egress.Protocol = "tcp"
	}
	if err := Validate(z); err != nil {
		return domain.NetworkZone{}, err
	}
	return z, nil
}

// Validate 验证网络区域的拓扑不变量：
// 子网都在区域地址范围内且互不重叠；至少两个故障域，每个故障域恰好一个公有和一个私有子网；
// 出口网关位于公有子网；出口规则为 TCP 且端口列表非空。
func Validate(z domain.NetworkZone) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("zone %q: %w: %s", z.Name, domain.ErrInvalidZone, fmt.Sprintf(format, args...))
	}

	if z.Name == "" {
		return invalid("empty name")
	}
	zonePrefix, err := netip.ParsePrefix(z.CIDR)
	if err != nil {
		return invalid("cidr %q", z.CIDR)
	}
	zonePrefix = zonePrefix.Masked()
	if len(z.AvailabilityZones) < 2 {
		return invalid("need at least two availability zones")
	}

	type tierCount struct{ public, private int }
	perAZ := make(map[string]*tierCount, len(z.AvailabilityZones))
	for _, az := range z.AvailabilityZones {
		perAZ[az] = &tierCount{}
	}

	var seen []netip.Prefix
	names := make(map[string]domain.Subnet, len(z.Subnets))
	for _, s := range z.Subnets {
		p, err := netip.ParsePrefix(s.CIDR)
		if err != nil {
			return invalid("subnet %s cidr %q", s.Name, s.CIDR)
		}
		p = p.Masked()
		if p.Bits() < zonePrefix.Bits() || !zonePrefix.Contains(p.Addr()) {
			return invalid("subnet %s %s outside %s", s.Name, p, zonePrefix)
		}
		for _, other := range seen {
			if other.Overlaps(p) {
				return invalid("subnet %s %s overlaps %s", s.Name, p, other)
			}
		}
		seen = append(seen, p)

		count, ok := perAZ[s.AvailabilityZone]
		if !ok {
			return invalid("subnet %s in unknown availability zone %q", s.Name, s.AvailabilityZone)
		}
		switch s.Tier {
		case domain.TierPublic:
			count.public++
		case domain.TierPrivate:
			count.private++
		default:
			return invalid("subnet %s has tier %q", s.Name, s.Tier)
		}
		names[s.Name] = s
	}
	for az, c := range perAZ {
		if c.public != 1 || c.private != 1 {
			return invalid("availability zone %s has %d public and %d private subnets", az, c.public, c.private)
		}
	}

	gw, ok := names[z.Gateway.Subnet]
	if !ok {
		return invalid("gateway subnet %q not found", z.Gateway.Subnet)
	}
	if gw.Tier != domain.TierPublic {
		return invalid("gateway subnet %s is not public", gw.Name)
	}
	if z.Gateway.PublicIP != "" {
		if _, err := netip.ParseAddr(z.Gateway.PublicIP); err != nil {
			return invalid("gateway public ip %q", z.Gateway.PublicIP)
		}
	}

	if z.Egress.Protocol != "tcp" || len(z.Egress.Ports) == 0 {
		return invalid("egress rule must be tcp with at least one port")
	}
	for _, port := range z.Egress.Ports {
		if port <= 0 || port > 65535 {
			return invalid("egress port %d", port)
		}
	}
	return nil
}

// nthSubnet 返回 prefix 按 bits 切分后的第 n 个子网（仅 IPv4）。
func nthSubnet(prefix netip.Prefix, bits, n int) netip.Prefix {
	base := prefix.Addr().As4()
	v := binary.BigEndian.Uint32(base[:]) + uint32(n)<<(32-bits)
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return netip.PrefixFrom(netip.AddrFrom4(out), bits)
}
