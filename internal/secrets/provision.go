package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/oriys/paygate/internal/domain"
)

// generatedSecretBytes 部署时生成的 apiSecret 长度（字节）
const generatedSecretBytes = 32

// ProvisionResult 描述一次部署时创建的结果。
type ProvisionResult struct {
	// Ref 凭据引用
	Ref string
	// Created 是否新建；false 表示已存在，未做任何修改
	Created bool
}

// Provision 确保凭据包存在。
// 新建时生成 apiSecret（32 字节随机数，base64 编码），apiKey 和 apiPassphrase 为空，
// 需要在首次使用前于带外填充。已存在的凭据包不会被覆盖。
func Provision(ctx context.Context, store Store, ref string) (ProvisionResult, error) {
	if ref == "" {
		return ProvisionResult{}, fmt.Errorf("provision: %w", domain.ErrInvalidSecretRef)
	}
	raw := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return ProvisionResult{}, fmt.Errorf("provision %s: generate: %w", ref, err)
	}
	bundle := &domain.SecretBundle{
		Ref: ref,
		Fields: map[string]string{
			domain.SecretFieldAPIKey:        "",
			domain.SecretFieldAPISecret:     base64.StdEncoding.EncodeToString(raw),
			domain.SecretFieldAPIPassphrase: "",
		},
	}
	err := store.Create(ctx, bundle)
	if errors.Is(err, domain.ErrSecretExists) {
		return ProvisionResult{Ref: ref}, nil
	}
	if err != nil {
		return ProvisionResult{}, err
	}
	return ProvisionResult{Ref: ref, Created: true}, nil
}

// Status 描述凭据包的填充状态，不包含任何字段值。
type Status struct {
	// Ref 凭据引用
	Ref string `json:"ref" yaml:"ref"`
	// Exists 是否存在
	Exists bool `json:"exists" yaml:"exists"`
	// Complete 三个字段是否都已填充
	Complete bool `json:"complete" yaml:"complete"`
	// Missing 未填充的字段名
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Inspect 检查凭据包的填充状态。
func Inspect(ctx context.Context, store Store, ref string) (Status, error) {
	b, err := store.Get(ctx, ref)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return Status{Ref: ref, Missing: domain.ExchangeSecretFields}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{
		Ref:      ref,
		Exists:   true,
		Complete: b.Complete(domain.ExchangeSecretFields...),
		Missing:  b.MissingFields(domain.ExchangeSecretFields...),
	}, nil
}
