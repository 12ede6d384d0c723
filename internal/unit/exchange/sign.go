package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidSigningKey 表示 apiSecret 不是合法的 base64。
var ErrInvalidSigningKey = errors.New("api secret is not valid base64")

// 交易所签名请求头
const (
	HeaderAccessKey        = "CB-ACCESS-KEY"
	HeaderAccessSign       = "CB-ACCESS-SIGN"
	HeaderAccessTimestamp  = "CB-ACCESS-TIMESTAMP"
	HeaderAccessPassphrase = "CB-ACCESS-PASSPHRASE"
)

// Sign 计算请求签名：以 base64 解码后的 secret 为密钥，
// 对 timestamp + method + path + body 做 HMAC-SHA256，结果 base64 编码。
func Sign(secret, timestamp, method, path, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
