// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 zone 命令：规划网络区域、查看和下发主机出站规则。
package cmd

import (
	"context"
	"fmt"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/netzone"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Plan and enforce network zones",
}

var zonePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Carve a zone CIDR into public and private subnets",
	Long: `Carve a zone CIDR into one public and one private subnet per
availability zone and print the host rules the gateway would apply.

Examples:
  paygatectl zone plan --cidr 10.0.0.0/16 --az zone-a --az zone-b
  paygatectl zone plan --cidr 10.8.0.0/20 --prefix 26 --az a --az b --az c -o json`,
	RunE: runZonePlan,
}

var zoneApplyCmd = &cobra.Command{
	Use:   "apply <zone>",
	Short: "Apply a configured zone's egress rules on this host",
	Long: `Apply the egress rules of a zone declared in the gateway config.
Requires root. Use --dry-run to print the commands without running them.`,
	Args: cobra.ExactArgs(1),
	RunE: runZoneApply,
}

var (
	zoneName      string
	zoneCIDR      string
	zoneAZs       []string
	zonePrefix    int
	zonePublicIP  string
	zoneInterface string
	zoneMark      int
	zoneDryRun    bool
)

func init() {
	rootCmd.AddCommand(zoneCmd)
	zoneCmd.AddCommand(zonePlanCmd)
	zoneCmd.AddCommand(zoneApplyCmd)

	zonePlanCmd.Flags().StringVar(&zoneName, "name", "egress", "区域名称")
	zonePlanCmd.Flags().StringVar(&zoneCIDR, "cidr", "10.0.0.0/16", "区域地址范围")
	zonePlanCmd.Flags().StringSliceVar(&zoneAZs, "az", []string{"zone-a", "zone-b"}, "故障域（至少两个）")
	zonePlanCmd.Flags().IntVar(&zonePrefix, "prefix", 24, "子网前缀长度")
	zonePlanCmd.Flags().StringVar(&zonePublicIP, "public-ip", "", "出口网关的固定公网地址")
	zonePlanCmd.Flags().StringVar(&zoneInterface, "interface", "eth0", "网关主机的外部网卡")
	zonePlanCmd.Flags().IntVar(&zoneMark, "fwmark", 0x1bb, "区域出站连接的防火墙标记")

	zoneApplyCmd.Flags().BoolVar(&zoneDryRun, "dry-run", false, "只打印命令，不执行")
}

func runZonePlan(cmd *cobra.Command, args []string) error {
	z, err := netzone.Plan(zoneName, zoneCIDR, zoneAZs, zonePrefix)
	if err != nil {
		return err
	}
	z.Gateway.PublicIP = zonePublicIP
	z.Gateway.Interface = zoneInterface
	z.Gateway.FWMark = zoneMark
	if err := netzone.Validate(z); err != nil {
		return err
	}
	return NewPrinter(cmd.OutOrStdout()).PrintZone(z, ruleStrings(z))
}

func runZoneApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadGatewayConfig(cmd)
	if err != nil {
		return err
	}
	declared, ok := cfg.Network.Zone(args[0])
	if !ok {
		return fmt.Errorf("zone %q: %w", args[0], domain.ErrZoneNotFound)
	}
	z, err := netzone.Complete(declared, cfg.Network.SubnetPrefix)
	if err != nil {
		return err
	}
	if zoneDryRun {
		return NewPrinter(cmd.OutOrStdout()).PrintZone(z, ruleStrings(z))
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if err := netzone.NewProvisioner(z, nil, logger).Apply(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Zone %s egress rules applied\n", z.Name)
	return nil
}

func ruleStrings(z domain.NetworkZone) []string {
	cmds := netzone.NewProvisioner(z, nil, nil).Rules()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}
