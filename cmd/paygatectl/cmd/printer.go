// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现输出格式化打印功能，支持 table、json 和 yaml 三种格式。
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/oriys/paygate/internal/domain"
	"github.com/oriys/paygate/internal/events"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Printer 按配置的输出格式把数据写到 writer。
type Printer struct {
	format string
	writer io.Writer
}

// NewPrinter 创建打印器，格式从 viper 的 output 读取，默认 table。
func NewPrinter(w io.Writer) *Printer {
	format := viper.GetString("output")
	if format == "" {
		format = "table"
	}
	return &Printer{format: format, writer: w}
}

// RouteRow 是路由表中的一行。
type RouteRow struct {
	Path     string `json:"path" yaml:"path"`
	Method   string `json:"method" yaml:"method"`
	Unit     string `json:"unit" yaml:"unit"`
	Statuses []int  `json:"statuses" yaml:"statuses"`
	Zone     string `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// PrintRoutes 打印路由表。
func (p *Printer) PrintRoutes(rows []RouteRow) error {
	switch p.format {
	case "json":
		return p.printJSON(rows)
	case "yaml":
		return p.printYAML(rows)
	}
	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tUNIT\tSTATUSES\tZONE")
	for _, r := range rows {
		zone := r.Zone
		if zone == "" {
			zone = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Method, r.Path, r.Unit, joinInts(r.Statuses), zone)
	}
	return w.Flush()
}

// PrintZone 打印区域规划以及需要在网关主机上执行的命令。
func (p *Printer) PrintZone(z domain.NetworkZone, rules []string) error {
	switch p.format {
	case "json":
		return p.printJSON(zoneView{Zone: z, Rules: rules})
	case "yaml":
		return p.printYAML(zoneView{Zone: z, Rules: rules})
	}
	fmt.Fprintf(p.writer, "Zone:     %s\n", z.Name)
	fmt.Fprintf(p.writer, "CIDR:     %s\n", z.CIDR)
	fmt.Fprintf(p.writer, "Gateway:  %s\n", z.Gateway.Subnet)
	fmt.Fprintf(p.writer, "Egress:   %s %s\n", z.Egress.Protocol, joinInts(z.Egress.Ports))
	fmt.Fprintln(p.writer)

	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBNET\tTIER\tAZ\tCIDR")
	for _, s := range z.Subnets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Tier, s.AvailabilityZone, s.CIDR)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(rules) > 0 {
		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, "Host rules:")
		for _, r := range rules {
			fmt.Fprintf(p.writer, "  %s\n", r)
		}
	}
	return nil
}

type zoneView struct {
	Zone  domain.NetworkZone `json:"zone" yaml:"zone"`
	Rules []string           `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// PrintSecretStatus 打印凭据包的填充状态，从不输出字段值。
func (p *Printer) PrintSecretStatus(statuses []secrets.Status) error {
	switch p.format {
	case "json":
		return p.printJSON(statuses)
	case "yaml":
		return p.printYAML(statuses)
	}
	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tEXISTS\tCOMPLETE\tMISSING")
	for _, s := range statuses {
		missing := strings.Join(s.Missing, ",")
		if missing == "" {
			missing = "-"
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", s.Ref, s.Exists, s.Complete, missing)
	}
	return w.Flush()
}

// PrintEvent 打印一条审计事件。table 格式下每条事件一行。
func (p *Printer) PrintEvent(e *events.Event) error {
	switch p.format {
	case "json":
		return json.NewEncoder(p.writer).Encode(e)
	case "yaml":
		return p.printYAML(e)
	}
	_, err := fmt.Fprintf(p.writer, "%s  %-26s %s\n", e.Timestamp.Format("15:04:05.000"), e.Subject, string(e.Data))
	return err
}

// 使用 2 空格缩进美化输出。
func (p *Printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) printYAML(v interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	return enc.Encode(v)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
