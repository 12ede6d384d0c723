// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 health 命令，检查运行中网关的就绪状态和跨域预检。
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/paygate/internal/gatewayclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running gateway",
	Long: `Query the gateway's readiness probe and, with --origin, send a CORS
preflight to every route to confirm the origin is allowed.

Preflight requests count against the global throttle.

Examples:
  paygatectl health
  paygatectl health -u https://pay.example.com --origin https://shop.example.com`,
	RunE: runHealth,
}

var (
	healthOrigin string
	healthPaths  []string
)

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthOrigin, "origin", "", "预检使用的 Origin，为空时跳过预检")
	healthCmd.Flags().StringSliceVar(&healthPaths, "path", []string{"/charges", "/coinbase-proxy"}, "预检的路由路径")
}

// newGatewayClient 按 api_url 创建网关客户端。
func newGatewayClient(origin string) *gatewayclient.Client {
	return gatewayclient.New(viper.GetString("api_url"),
		gatewayclient.WithOrigin(origin),
		gatewayclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := newGatewayClient(healthOrigin)
	out := cmd.OutOrStdout()

	st, err := client.Ready(ctx)
	if err != nil {
		if st != nil {
			return fmt.Errorf("gateway not ready: failed checks %s", strings.Join(st.Failed, ", "))
		}
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	fmt.Fprintf(out, "ready: %s\n", st.Status)

	if healthOrigin == "" {
		return nil
	}
	for _, path := range healthPaths {
		res, err := client.Preflight(ctx, path, http.MethodPost)
		if err != nil {
			return fmt.Errorf("preflight %s: %w", path, err)
		}
		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			fmt.Fprintf(out, "preflight %s: throttled, retry after %ss\n", path, res.RetryAfter)
		case res.StatusCode != http.StatusNoContent:
			return fmt.Errorf("preflight %s: status %d", path, res.StatusCode)
		case !res.Allowed(healthOrigin):
			return fmt.Errorf("preflight %s: origin %s not allowed", path, healthOrigin)
		default:
			fmt.Fprintf(out, "preflight %s: ok (%s)\n", path, res.AllowMethods)
		}
	}
	return nil
}
