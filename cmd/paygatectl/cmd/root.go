// Package cmd 包含 paygatectl CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"fmt"
	"os"

	"github.com/oriys/paygate/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile     string // CLI 配置文件路径
	gatewayFile string // 网关配置文件路径
	apiURL      string // 网关地址
	outputFmt   string // 输出格式（table/json/yaml）
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "paygatectl",
	Short: "PayGate - payment gateway front door CLI",
	Long: `paygatectl 是支付网关前门的运维命令行工具。

使用示例:
  # 查看路由表与响应契约
  paygatectl routes

  # 规划网络区域并打印主机出站规则
  paygatectl zone plan --cidr 10.0.0.0/16 --az zone-a --az zone-b

  # 部署时创建交易所凭据包（已存在时不覆盖）
  paygatectl secret provision paygate/coinbase-exchange

  # 跟踪审计事件
  paygatectl audit tail`,
	SilenceUsage: true,
}

// Execute 执行根命令，由 main 包调用
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "CLI 配置文件路径（默认为 $HOME/.paygatectl.yaml）")
	rootCmd.PersistentFlags().StringVarP(&gatewayFile, "gateway-config", "g", "/etc/paygate/gateway.yaml", "网关配置文件路径")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "u", "http://localhost:8080", "网关地址")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "输出格式（table、json、yaml）")

	viper.BindPFlag("gateway_config", rootCmd.PersistentFlags().Lookup("gateway-config"))
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// initConfig 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".paygatectl")
	}

	// 环境变量格式：PAYGATECTL_<KEY>，如 PAYGATECTL_API_URL
	viper.SetEnvPrefix("PAYGATECTL")
	viper.AutomaticEnv()

	// 配置文件不存在时忽略
	_ = viper.ReadInConfig()
}

// loadGatewayConfig 加载网关配置；文件不存在时使用内置默认值。
func loadGatewayConfig(cmd *cobra.Command) (*config.Config, error) {
	path := viper.GetString("gateway_config")
	cfg, found, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load gateway config %s: %w", path, err)
	}
	if !found {
		fmt.Fprintf(cmd.ErrOrStderr(), "gateway config %s not found, using built-in defaults\n", path)
	}
	return cfg, nil
}
