// Package domain 定义了支付网关前门的核心领域模型。
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// 交易所凭据的字段名
const (
	// SecretFieldAPIKey API Key
	SecretFieldAPIKey = "apiKey"
	// SecretFieldAPISecret API Secret（base64 编码的 HMAC 密钥）
	SecretFieldAPISecret = "apiSecret"
	// SecretFieldAPIPassphrase API Passphrase
	SecretFieldAPIPassphrase = "apiPassphrase"
)

// ExchangeSecretFields 是交易所凭据包的字段集合。
var ExchangeSecretFields = []string{SecretFieldAPIKey, SecretFieldAPISecret, SecretFieldAPIPassphrase}

// redacted 是日志和序列化中替代密钥值的占位符
const redacted = "[REDACTED]"

// SecretBundle 表示凭据存储中的一个结构化凭据包。
// 部署时以占位值创建一次，之后只在带外轮换；本系统从不修改它。
// String、GoString 和 MarshalJSON 都会隐藏字段值，防止密钥出现在日志或响应中。
type SecretBundle struct {
	// Ref 密钥引用标识，跨轮换保持稳定
	Ref string
	// Fields 字段名 -> 值
	Fields map[string]string
}

// Get 返回字段值。
func (b *SecretBundle) Get(field string) string {
	if b == nil {
		return ""
	}
	return b.Fields[field]
}

// FieldNames 返回字段名（升序）。
func (b SecretBundle) FieldNames() []string {
	names := make([]string, 0, len(b.Fields))
	for k := range b.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Complete 检查给定字段是否都已填充（非空）。
func (b *SecretBundle) Complete(fields ...string) bool {
	if b == nil {
		return false
	}
	for _, f := range fields {
		if strings.TrimSpace(b.Fields[f]) == "" {
			return false
		}
	}
	return true
}

// MissingFields 返回未填充的字段名。
func (b *SecretBundle) MissingFields(fields ...string) []string {
	var missing []string
	for _, f := range fields {
		if b == nil || strings.TrimSpace(b.Fields[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Values 返回所有非空字段值，用于泄漏检测。
func (b *SecretBundle) Values() []string {
	if b == nil {
		return nil
	}
	values := make([]string, 0, len(b.Fields))
	for _, v := range b.Fields {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// String 返回隐藏了字段值的描述。
// 使用值接收者，值和指针都不会打印原始字段。
func (b SecretBundle) String() string {
	return fmt.Sprintf("SecretBundle(%s, fields=%v)", b.Ref, b.FieldNames())
}

// GoString 与 String 相同，避免 %#v 打印原始值。
func (b SecretBundle) GoString() string {
	return b.String()
}

// MarshalJSON 序列化时隐藏字段值。
func (b SecretBundle) MarshalJSON() ([]byte, error) {
	fields := make(map[string]string, len(b.Fields))
	for k := range b.Fields {
		fields[k] = redacted
	}
	return json.Marshal(struct {
		Ref    string            `json:"ref"`
		Fields map[string]string `json:"fields"`
	}{Ref: b.Ref, Fields: fields})
}

// DecodeSecretString 将凭据存储中的 JSON 字符串对象解析为凭据包。
func DecodeSecretString(ref string, data []byte) (*SecretBundle, error) {
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretMalformed, ref)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretMalformed, ref)
	}
	return &SecretBundle{Ref: ref, Fields: fields}, nil
}

// EncodeSecretString 将凭据包编码为存储使用的 JSON 字符串对象。
func EncodeSecretString(b *SecretBundle) ([]byte, error) {
	fields := b.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return json.Marshal(fields)
}

// SecretGrant 表示对某个计算单元的只读密钥授权。
type SecretGrant struct {
	// Unit 计算单元名称
	Unit string `json:"unit" yaml:"unit"`
	// Ref 密钥引用
	Ref string `json:"ref" yaml:"ref"`
}
