package netzone

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/oriys/paygate/internal/domain"
	"github.com/sirupsen/logrus"
)

// defaultRouteTable 区域出站流量使用的策略路由表
const defaultRouteTable = 443

// Command 是一条主机网络命令。
type Command struct {
	Name string
	Args []string
}

// String 返回可直接在 shell 中执行的命令行。
func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner 执行主机命令，测试中可替换。
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner 通过 os/exec 执行命令。
type ExecRunner struct{}

// Run 实现 Runner。
func (ExecRunner) Run(ctx context.Context, cmd Command) error {
	out, err := exec.CommandContext(ctx, cmd.Name, cmd.Args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Provisioner 在网关主机上下发区域的出站规则。
// 规则包括：开启转发、按防火墙标记走策略路由、只放行标记流量和私有子网流量的 TCP 允许端口、
// 其余出站拒绝、并把出站源地址转换为网关的固定公网地址。
type Provisioner struct {
	zone   domain.NetworkZone
	runner Runner
	logger *logrus.Logger
	table  int
}

// NewProvisioner 创建区域规则下发器。runner 为空时使用 ExecRunner。
func NewProvisioner(zone domain.NetworkZone, runner Runner, logger *logrus.Logger) *Provisioner {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provisioner{zone: zone, runner: runner, logger: logger, table: defaultRouteTable}
}

// Rules 返回区域需要的全部主机命令（按执行顺序）。
func (p *Provisioner) Rules() []Command {
	z := p.zone
	gw := z.Gateway
	var cmds []Command

	cmds = append(cmds, Command{"sysctl", []string{"-w", "net.ipv4.ip_forward=1"}})

	mark := ""
	if gw.FWMark != 0 {
		mark = "0x" + strconv.FormatInt(int64(gw.FWMark), 16)
		table := strconv.Itoa(p.table)
		cmds = append(cmds, Command{"ip", []string{"rule", "add", "fwmark", mark, "table", table}})
		if gw.Interface != "" {
			cmds = append(cmds, Command{"ip", []string{"route", "replace", "default", "dev", gw.Interface, "table", table}})
		}
		for _, port := range z.Egress.Ports {
			cmds = append(cmds, Command{"iptables", []string{"-A", "OUTPUT", "-m", "mark", "--mark", mark,
				"-p", z.Egress.Protocol, "--dport", strconv.Itoa(port), "-j", "ACCEPT"}})
		}
		cmds = append(cmds, Command{"iptables", []string{"-A", "OUTPUT", "-m", "mark", "--mark", mark, "-j", "REJECT"}})
	}

	for _, s := range z.SubnetsByTier(domain.TierPrivate) {
		for _, port := range z.Egress.Ports {
			cmds = append(cmds, Command{"iptables", []string{"-A", "FORWARD", "-s", s.CIDR,
				"-p", z.Egress.Protocol, "--dport", strconv.Itoa(port), "-j", "ACCEPT"}})
		}
		cmds = append(cmds, Command{"iptables", []string{"-A", "FORWARD", "-s", s.CIDR, "-j", "REJECT"}})
	}

	// 出站源地址统一为网关公网地址
	if gw.Interface != "" && gw.PublicIP != "" {
		if mark != "" {
			cmds = append(cmds, Command{"iptables", []string{"-t", "nat", "-A", "POSTROUTING", "-m", "mark", "--mark", mark,
				"-o", gw.Interface, "-j", "SNAT", "--to-source", gw.PublicIP}})
		}
		for _, s := range z.SubnetsByTier(domain.TierPrivate) {
			cmds = append(cmds, Command{"iptables", []string{"-t", "nat", "-A", "POSTROUTING", "-s", s.CIDR,
				"-o", gw.Interface, "-j", "SNAT", "--to-source", gw.PublicIP}})
		}
	}
	return cmds
}

// Apply 按顺序执行规则。
// iptables 规则先用 -C 检查，已存在则跳过，重复执行不会产生重复规则。
func (p *Provisioner) Apply(ctx context.Context) error {
	applied := 0
	for _, cmd := range p.Rules() {
		if cmd.Name == "iptables" {
			if err := p.runner.Run(ctx, checkCommand(cmd)); err == nil {
				continue
			}
		}
		if err := p.runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("zone %s: %w", p.zone.Name, err)
		}
		applied++
	}
	p.logger.WithFields(logrus.Fields{
		"zone":      p.zone.Name,
		"egress_ip": p.zone.EgressAddress(),
		"rules":     applied,
	}).Info("Egress rules applied")
	return nil
}

// Teardown 删除 Apply 添加的规则，逆序执行，单条失败只记录警告。
func (p *Provisioner) Teardown(ctx context.Context) error {
	rules := p.Rules()
	for i := len(rules) - 1; i >= 0; i-- {
		cmd, ok := deleteCommand(rules[i])
		if !ok {
			continue
		}
		if err := p.runner.Run(ctx, cmd); err != nil {
			p.logger.WithError(err).WithField("zone", p.zone.Name).Warn("Failed to remove egress rule")
		}
	}
	return nil
}

// checkCommand 将 iptables -A 转换为 -C。
func checkCommand(cmd Command) Command {
	return replaceArg(cmd, "-A", "-C")
}

// deleteCommand 返回撤销命令；sysctl 和 route replace 不撤销。
func deleteCommand(cmd Command) (Command, bool) {
	switch {
	case cmd.Name == "iptables":
		return replaceArg(cmd, "-A", "-D"), true
	case cmd.Name == "ip" && len(cmd.Args) > 1 && cmd.Args[0] == "rule":
		return replaceArg(cmd, "add", "del"), true
	}
	return Command{}, false
}

func replaceArg(cmd Command, from, to string) Command {
	args := append([]string(nil), cmd.Args...)
	for i, a := range args {
		if a == from {
			args[i] = to
			break
		}
	}
	return Command{Name: cmd.Name, Args: args}
}
