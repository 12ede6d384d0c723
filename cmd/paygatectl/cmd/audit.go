// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 audit 命令，用于跟踪网关发布到 NATS 的审计事件。
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/paygate/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect gateway audit events",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow new audit events",
	Long: `Follow invocation and throttle-rejection events as the gateway
publishes them. Only events published after the command starts are shown.

Examples:
  paygatectl audit tail
  paygatectl audit tail --subject gateway.throttle.rejected -o json`,
	RunE: runAuditTail,
}

var (
	auditNatsURL string
	auditSubject string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)

	auditTailCmd.Flags().StringVar(&auditNatsURL, "nats-url", "", "NATS 地址（默认读取网关配置）")
	auditTailCmd.Flags().StringVar(&auditSubject, "subject", events.SubjectPrefix+">", "订阅的主题，支持通配符")
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	url := auditNatsURL
	if url == "" {
		cfg, err := loadGatewayConfig(cmd)
		if err != nil {
			return err
		}
		url = cfg.Events.NatsURL
	}
	if url == "" {
		return errors.New("no NATS url configured; pass --nats-url or set events.nats_url")
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	bus, err := events.NewEventBus(url, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := NewPrinter(cmd.OutOrStdout())
	if err := bus.Subscribe(ctx, auditSubject, printer.PrintEvent); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
