// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 routes 命令，用于查看网关配置中的路由表。
package cmd

import (
	"github.com/oriys/paygate/internal/routing"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the route table",
	Long: `Show the route table loaded from the gateway config.

Each route lists its declared response statuses; every declared status
carries the full CORS header set. Undeclared unit statuses are normalized
to 400 (client errors) or 500.

Examples:
  paygatectl routes
  paygatectl routes -o yaml`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadGatewayConfig(cmd)
	if err != nil {
		return err
	}
	// 通过路由表构建一次，和网关启动时一样拒绝重复或无效的路由
	table, err := routing.NewTable(cfg.DomainRoutes()...)
	if err != nil {
		return err
	}

	var rows []RouteRow
	for _, r := range table.Routes() {
		row := RouteRow{Path: r.Path, Method: r.Method, Unit: r.Unit, Statuses: r.Statuses()}
		if spec, ok := cfg.Unit(r.Unit); ok && spec.Zoned() {
			row.Zone = spec.Zone
		}
		rows = append(rows, row)
	}
	return NewPrinter(cmd.OutOrStdout()).PrintRoutes(rows)
}
