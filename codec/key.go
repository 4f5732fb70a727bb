package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfInfo = "wecom-archive/v1"
)

// TenantKey 租户解密密钥（32 字节）
type TenantKey struct {
	secret []byte
}

// ParseEncodingAESKey 解析企业微信后台配置的 EncodingAESKey（43 位 base64，补 "=" 后为 32 字节）
func ParseEncodingAESKey(s string) (TenantKey, error) {
	if len(s) != 43 {
		return TenantKey{}, fmt.Errorf("encoding aes key must be 43 characters, got %d", len(s))
	}
	raw, err := base64.StdEncoding.DecodeString(s + "=")
	if err != nil {
		return TenantKey{}, fmt.Errorf("decode encoding aes key: %w", err)
	}
	return NewTenantKey(raw)
}

// NewTenantKey 直接使用 32 字节密钥
func NewTenantKey(raw []byte) (TenantKey, error) {
	if len(raw) != keySize {
		return TenantKey{}, fmt.Errorf("tenant key must be %d bytes, got %d", keySize, len(raw))
	}
	k := make([]byte, keySize)
	copy(k, raw)
	return TenantKey{secret: k}, nil
}

// IsZero 未配置密钥
func (k TenantKey) IsZero() bool { return len(k.secret) == 0 }

// derive 以信封随机 key 为 salt 派生出加密与 MAC 两把子密钥
func (k TenantKey) derive(salt []byte) (encKey, macKey []byte, err error) {
	if k.IsZero() {
		return nil, nil, fmt.Errorf("tenant key is empty")
	}
	r := hkdf.New(sha256.New, k.secret, salt, []byte(hkdfInfo))
	buf := make([]byte, 2*keySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, err
	}
	return buf[:keySize], buf[keySize:], nil
}
