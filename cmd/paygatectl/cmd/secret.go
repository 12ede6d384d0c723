// Package cmd 提供 paygatectl 命令行工具的所有子命令实现。
// 本文件实现 secret 命令：部署时创建凭据包并检查填充状态。
//
// 所有子命令都不会输出凭据字段的值。
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/paygate/internal/config"
	"github.com/oriys/paygate/internal/secrets"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// secretTimeout 单次存储操作的超时
const secretTimeout = 10 * time.Second

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Provision and inspect secret bundles",
}

var secretProvisionCmd = &cobra.Command{
	Use:   "provision [ref...]",
	Short: "Create secret bundles that do not exist yet",
	Long: `Create secret bundles in the configured store. A new bundle gets a
generated apiSecret and empty apiKey and apiPassphrase, which must be
populated out of band before first use. Existing bundles are left as is.

Without arguments, provisions every ref listed under secrets.provision
in the gateway config.`,
	RunE: runSecretProvision,
}

var secretStatusCmd = &cobra.Command{
	Use:   "status [ref...]",
	Short: "Show which secret fields are populated",
	RunE:  runSecretStatus,
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretProvisionCmd)
	secretCmd.AddCommand(secretStatusCmd)
}

func runSecretProvision(cmd *cobra.Command, args []string) error {
	cfg, store, closeStore, err := openSecretStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	refs := args
	if len(refs) == 0 {
		refs = cfg.Secrets.Provision
	}
	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()

	for _, ref := range refs {
		res, err := secrets.Provision(ctx, store, ref)
		if err != nil {
			return err
		}
		if res.Created {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: created; populate apiKey and apiPassphrase before use\n", ref)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already exists, unchanged\n", ref)
		}
	}
	return nil
}

func runSecretStatus(cmd *cobra.Command, args []string) error {
	cfg, store, closeStore, err := openSecretStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	refs := args
	if len(refs) == 0 {
		refs = cfg.Secrets.Provision
	}
	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()

	statuses := make([]secrets.Status, 0, len(refs))
	for _, ref := range refs {
		st, err := secrets.Inspect(ctx, store, ref)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}
	return NewPrinter(cmd.OutOrStdout()).PrintSecretStatus(statuses)
}

// openSecretStore 按网关配置打开凭据存储。
// memory 后端只存在于网关进程内，CLI 无法访问。
func openSecretStore(cmd *cobra.Command) (*config.Config, secrets.Store, func(), error) {
	cfg, err := loadGatewayConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	switch cfg.Secrets.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		return cfg, secrets.NewRedisStore(rdb, cfg.Secrets.KeyPrefix), func() { rdb.Close() }, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
		defer cancel()
		pg := cfg.Storage.Postgres
		store, err := secrets.OpenPostgresStore(ctx, pg.DSN(), pg.MaxConnections)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg, store, func() { store.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("secrets backend %q is not reachable from the CLI", cfg.Secrets.Backend)
}
