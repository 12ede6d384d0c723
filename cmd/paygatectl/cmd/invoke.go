// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 charge 和 candles 命令，通过网关前门调用内置计算单元做联调检查。
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/paygate/internal/gatewayclient"
	"github.com/oriys/paygate/internal/unit/charges"
	"github.com/oriys/paygate/internal/unit/exchange"
	"github.com/spf13/cobra"
)

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Create a payment link through the gateway",
	Long: `Create a one-time payment link through POST /charges.

Examples:
  paygatectl charge --amount 25 --description "T-shirt" --email buyer@example.com`,
	RunE: runCharge,
}

var candlesCmd = &cobra.Command{
	Use:   "candles",
	Short: "Fetch candles through the exchange proxy",
	Long: `Fetch historical candles through POST /coinbase-proxy.

Examples:
  paygatectl candles --pair BTC-USD --granularity 3600`,
	RunE: runCandles,
}

var (
	invokeOrigin      string
	chargeAmount      float64
	chargeDescription string
	chargeEmail       string
	candlesPair       string
	candlesGran       int
)

func init() {
	rootCmd.AddCommand(chargeCmd)
	rootCmd.AddCommand(candlesCmd)

	for _, c := range []*cobra.Command{chargeCmd, candlesCmd} {
		c.Flags().StringVar(&invokeOrigin, "origin", "http://localhost:3000", "请求使用的 Origin")
	}
	chargeCmd.Flags().Float64Var(&chargeAmount, "amount", 0, "金额（USD）")
	chargeCmd.Flags().StringVar(&chargeDescription, "description", "", "描述")
	chargeCmd.Flags().StringVar(&chargeEmail, "email", "", "客户邮箱")
	candlesCmd.Flags().StringVar(&candlesPair, "pair", "BTC-USD", "交易对")
	candlesCmd.Flags().IntVar(&candlesGran, "granularity", 3600, "K 线粒度（秒）")
}

func runCharge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	link, err := newGatewayClient(invokeOrigin).CreateCharge(ctx, &charges.Input{
		Amount:        chargeAmount,
		Description:   chargeDescription,
		CustomerEmail: chargeEmail,
	})
	if err != nil {
		return describeCallError(err)
	}
	p := NewPrinter(cmd.OutOrStdout())
	if p.format == "table" {
		fmt.Fprintf(p.writer, "Charge:   %s\n", link.ChargeID)
		fmt.Fprintf(p.writer, "Amount:   %.2f %s\n", link.Amount, link.Currency)
		fmt.Fprintf(p.writer, "Status:   %s\n", link.Status)
		fmt.Fprintf(p.writer, "Pay at:   %s\n", link.HostedURL)
		return nil
	}
	if p.format == "yaml" {
		return p.printYAML(link)
	}
	return p.printJSON(link)
}

func runCandles(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	raw, err := newGatewayClient(invokeOrigin).Proxy(ctx, &exchange.Request{
		Action:      exchange.ActionGetCandles,
		TradingPair: candlesPair,
		Granularity: candlesGran,
	})
	if err != nil {
		return describeCallError(err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}

// describeCallError 为限流错误补充重试提示。
func describeCallError(err error) error {
	var apiErr *gatewayclient.APIError
	if errors.Is(err, gatewayclient.ErrThrottled) && errors.As(err, &apiErr) {
		return fmt.Errorf("%w; retry after %s", err, apiErr.RetryAfter)
	}
	return err
}
