package custody

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"OpenTrade-Bot/internal/chain"
	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/vault"
)

// Custodian 负责钱包生命周期与交易签名。私钥只在单次调用内
// 以明文形式存在，从不出现在返回值、日志或会话里。
type Custodian struct {
	vault   *vault.Vault
	store   ledger.Store
	gateway chain.Gateway
}

// New 创建 Custodian。
func New(v *vault.Vault, store ledger.Store, gateway chain.Gateway) *Custodian {
	return &Custodian{vault: v, store: store, gateway: gateway}
}

// Generate 为用户生成新钱包并加密落库，覆盖已有钱包。
func (c *Custodian) Generate(ctx context.Context, userID string) (*ledger.Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "生成私钥失败")
	}
	return c.storeKey(ctx, userID, key, ledger.OriginGenerated)
}

// Import 校验并导入用户提供的原始私钥，覆盖已有钱包。
// 接受带或不带 0x 前缀的 64 位十六进制串。
func (c *Custodian) Import(ctx context.Context, userID, rawKey string) (*ledger.Wallet, error) {
	cleaned := strings.TrimSpace(rawKey)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	cleaned = strings.TrimPrefix(cleaned, "0X")
	if len(cleaned) != 64 {
		return nil, xerrors.New(xerrors.CodeValidation, "私钥必须是 64 位十六进制字符")
	}
	keyBytes, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeValidation, "私钥不是合法的十六进制")
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeValidation, "私钥不在合法区间内")
	}
	return c.storeKey(ctx, userID, key, ledger.OriginImported)
}

// Get 返回用户的钱包记录，不含任何密钥明文。
func (c *Custodian) Get(ctx context.Context, userID string) (*ledger.Wallet, error) {
	return c.store.GetWallet(ctx, userID)
}

// ExportKey 解密并返回私钥的十六进制明文，仅供导出流程
// 在用户确认后调用。调用方负责展示后立即丢弃。
func (c *Custodian) ExportKey(ctx context.Context, userID string) (string, error) {
	wallet, err := c.store.GetWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	key, err := c.unseal(wallet)
	if err != nil {
		return "", err
	}
	defer zeroKey(key)
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}

// SignAndSubmit 解密用户私钥、签名并提交交易，阻塞等待回执。
func (c *Custodian) SignAndSubmit(ctx context.Context, wallet *ledger.Wallet, params chain.TxParams) (chain.Receipt, error) {
	if wallet == nil {
		return chain.Receipt{}, xerrors.New(xerrors.CodeValidation, "缺少钱包记录")
	}
	key, err := c.unseal(wallet)
	if err != nil {
		return chain.Receipt{}, err
	}
	defer zeroKey(key)
	return c.gateway.SubmitTransaction(ctx, key, params)
}

// storeKey 加密私钥并写入账本，返回落库后的钱包记录。
func (c *Custodian) storeKey(ctx context.Context, userID string, key *ecdsa.PrivateKey, origin ledger.WalletOrigin) (*ledger.Wallet, error) {
	defer zeroKey(key)
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "用户 ID 不能为空")
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	encrypted, err := c.vault.Encrypt(crypto.FromECDSA(key))
	if err != nil {
		return nil, err
	}
	wallet := ledger.Wallet{
		UserID:       userID,
		Address:      address,
		EncryptedKey: encrypted,
		Origin:       origin,
		CreatedAt:    time.Now().Unix(),
	}
	if err := c.store.PutWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// unseal 解密钱包密文并校验推导地址与落库地址一致，
// 不一致说明密文或记录被破坏，绝不能拿来签名。
func (c *Custodian) unseal(wallet *ledger.Wallet) (*ecdsa.PrivateKey, error) {
	plaintext, err := c.vault.Decrypt(wallet.EncryptedKey)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(plaintext)
	zeroBytes(plaintext)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrypto, err, "解密出的私钥不可用")
	}
	derived := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if !strings.EqualFold(derived, wallet.Address) {
		zeroKey(key)
		return nil, xerrors.New(xerrors.CodeCrypto, "私钥与钱包地址不匹配",
			xerrors.WithMetadata("wallet_address", wallet.Address))
	}
	return key, nil
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	key.D.SetInt64(0)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
