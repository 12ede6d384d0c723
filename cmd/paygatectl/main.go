// Package main 是 paygatectl 命令行工具的入口点
// paygatectl 用于检查网关的路由表、规划网络区域、部署凭据和查看审计事件
package main

import (
	"os"

	"github.com/oriys/paygate/cmd/paygatectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
