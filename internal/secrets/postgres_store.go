package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/oriys/paygate/internal/domain"
)

const createSecretsTable = `
CREATE TABLE IF NOT EXISTS gateway_secrets (
	ref        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// postgresDriver 是 database/sql 驱动名
var postgresDriver = "postgres"

// PostgresStore 将凭据包保存在 gateway_secrets 表中，payload 为 JSON 字符串对象。
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore 连接 PostgreSQL 并确保表结构存在。
//
// 参数：
//   - ctx: 上下文
//   - dsn: lib/pq 连接串
//   - maxConns: 最大连接数，0 表示不限制
//
// 返回值：
//   - *PostgresStore: 凭据存储
//   - error: 连接或建表失败时返回错误
func OpenPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open(postgresDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	s := NewPostgresStore(db)
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore 使用已有连接创建凭据存储。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ensureSchema 创建 gateway_secrets 表（如不存在），只由 OpenPostgresStore 调用。
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSecretsTable); err != nil {
		return fmt.Errorf("create gateway_secrets: %w", err)
	}
	return nil
}

// Get 实现 Store。
func (s *PostgresStore) Get(ctx context.Context, ref string) (*domain.SecretBundle, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM gateway_secrets WHERE ref = $1`, ref).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", ref, err)
	}
	return domain.DecodeSecretString(ref, []byte(payload))
}

// Create 实现 Store。已存在的行不会被覆盖。
func (s *PostgresStore) Create(ctx context.Context, bundle *domain.SecretBundle) error {
	data, err := domain.EncodeSecretString(bundle)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_secrets (ref, payload) VALUES ($1, $2) ON CONFLICT (ref) DO NOTHING`,
		bundle.Ref, string(data))
	if err != nil {
		return fmt.Errorf("create secret %s: %w", bundle.Ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create secret %s: %w", bundle.Ref, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSecretExists, bundle.Ref)
	}
	return nil
}

// Ping 检查数据库连接，用于就绪检查。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
