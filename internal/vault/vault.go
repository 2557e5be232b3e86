package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	xerrors "OpenTrade-Bot/internal/errors"
)

// Vault 使用进程级主密钥对私钥材料做对称加解密。
// 主密钥在启动阶段加载一次，之后只读。
type Vault struct {
	aead cipher.AEAD
}

// New 根据 64 位十六进制主密钥构建 Vault。
func New(masterKeyHex string) (*Vault, error) {
	masterKeyHex = strings.TrimSpace(masterKeyHex)
	if len(masterKeyHex) != 64 {
		return nil, xerrors.New(xerrors.CodeCrypto, "主密钥必须是 64 位十六进制字符")
	}
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "主密钥不是合法的十六进制")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "构建 AES cipher 失败")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "构建 GCM 失败")
	}
	return &Vault{aead: aead}, nil
}

// Encrypt 加密明文并返回 nonce||ciphertext 的十六进制编码。
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	if v == nil || v.aead == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "vault 未初始化")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", xerrors.Wrap(xerrors.CodeCrypto, err, "生成随机 nonce 失败")
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 产出的密文。解密失败必须以 CRYPTO 错误上报，
// 绝不能把错误数据当作有效私钥继续使用。
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "vault 未初始化")
	}
	raw, err := hex.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "密文不是合法的十六进制")
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, xerrors.New(xerrors.CodeCrypto, "密文长度不足")
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "解密失败")
	}
	return plaintext, nil
}

// SelfTest 做一次加解密往返，验证主密钥可用。
// 自检失败时服务必须拒绝启动。
func (v *Vault) SelfTest() error {
	probe := []byte("opentrade-vault-self-test")
	blob, err := v.Encrypt(probe)
	if err != nil {
		return err
	}
	restored, err := v.Decrypt(blob)
	if err != nil {
		return err
	}
	if string(restored) != string(probe) {
		return xerrors.New(xerrors.CodeCrypto, "自检往返结果不一致")
	}
	return nil
}
