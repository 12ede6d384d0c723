// Package secrets 实现凭据存储与按计算单元授权的密钥访问代理。
// 计算单元配置中只有密钥引用，调用时通过 Provider 按引用解析；
// Provider 只能读取授予该单元的引用，每次解析都是一次即时读取，不做跨请求缓存。
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/paygate/internal/domain"
)

// Store 是凭据存储后端。
// 本系统只读取和在部署时创建凭据包，从不修改已存在的凭据（轮换在带外进行）。
type Store interface {
	// Get 读取凭据包，不存在时返回 domain.ErrSecretNotFound
	Get(ctx context.Context, ref string) (*domain.SecretBundle, error)
	// Create 创建凭据包，已存在时返回 domain.ErrSecretExists
	Create(ctx context.Context, bundle *domain.SecretBundle) error
}

// MemoryStore 是进程内凭据存储，用于开发和测试。
// 存取时都会复制字段，调用方无法通过返回值修改存储内容。
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]map[string]string
}

// NewMemoryStore 创建进程内凭据存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bundles: make(map[string]map[string]string)}
}

// Get 实现 Store。
func (s *MemoryStore) Get(ctx context.Context, ref string) (*domain.SecretBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.bundles[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretNotFound, ref)
	}
	return &domain.SecretBundle{Ref: ref, Fields: copyFields(fields)}, nil
}

// Create 实现 Store。
func (s *MemoryStore) Create(ctx context.Context, bundle *domain.SecretBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[bundle.Ref]; ok {
		return fmt.Errorf("%w: %s", domain.ErrSecretExists, bundle.Ref)
	}
	s.bundles[bundle.Ref] = copyFields(bundle.Fields)
	return nil
}

// Rotate 模拟带外轮换：整体替换字段值，引用不变。
// 网关本身不调用此方法，只在测试和本地开发中使用。
func (s *MemoryStore) Rotate(ref string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[ref] = copyFields(fields)
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
