package chain

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/tokens"
)

// TokenMetadata 是链上读出的代币元信息。
type TokenMetadata struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// TxParams 描述一笔待签名交易。金额与 gas 价格都是最小单位整数。
type TxParams struct {
	To       string
	Value    *big.Int
	Data     []byte
	GasPrice *big.Int
	GasLimit uint64
}

// Receipt 是等待上链后的最终结果。状态只有成功与失败两种。
type Receipt struct {
	Hash        string
	BlockNumber uint64
	Status      ledger.TxStatus
	GasUsed     uint64
}

// Gateway 抽象了对单个区块链节点的读写能力。
type Gateway interface {
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	TokenMetadata(ctx context.Context, token string) (TokenMetadata, error)
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	GasPrice(ctx context.Context, priority ledger.GasPriority) (*big.Int, error)
	SubmitTransaction(ctx context.Context, key *ecdsa.PrivateKey, params TxParams) (Receipt, error)
	Close()
}

// Config 描述以太坊网关的构建参数。
type Config struct {
	RPCURL         string
	ChainID        int64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// EthGateway 基于 go-ethereum 的 ethclient 实现 Gateway。
type EthGateway struct {
	eth            *ethclient.Client
	chainID        *big.Int
	receiptTimeout time.Duration
	receiptPoll    time.Duration
}

// NewEthGateway 连接配置的 RPC 节点。
func NewEthGateway(ctx context.Context, cfg Config) (*EthGateway, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置区块链 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "连接区块链节点失败")
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		remote, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "获取链 ID 失败")
		}
		chainID = remote
	}

	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 1500 * time.Millisecond
	}

	return &EthGateway{
		eth:            eth,
		chainID:        chainID,
		receiptTimeout: timeout,
		receiptPoll:    poll,
	}, nil
}

// NativeBalance 查询原生资产余额，返回最小单位整数。
func (g *EthGateway) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := g.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "查询原生余额失败")
	}
	return balance, nil
}

// TokenMetadata 读取代币符号与精度。原生资产伪地址直接走特例，精度固定 18。
func (g *EthGateway) TokenMetadata(ctx context.Context, token string) (TokenMetadata, error) {
	if tokens.IsNative(token) {
		return TokenMetadata{
			Address:  tokens.NativePlaceholder,
			Symbol:   "ETH",
			Decimals: tokens.NativeDecimals,
		}, nil
	}

	tokenAddr := common.HexToAddress(token)

	symbolRaw, err := g.call(ctx, tokenAddr, selectorSymbol)
	if err != nil {
		return TokenMetadata{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "读取代币符号失败")
	}
	symbol, err := decodeABIString(symbolRaw)
	if err != nil {
		return TokenMetadata{}, xerrors.Wrap(xerrors.CodeValidation, err, "代币符号不可解析")
	}

	decimalsRaw, err := g.call(ctx, tokenAddr, selectorDecimals)
	if err != nil {
		return TokenMetadata{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "读取代币精度失败")
	}
	decimals := new(big.Int).SetBytes(decimalsRaw)
	if !decimals.IsUint64() || decimals.Uint64() > 77 {
		return TokenMetadata{}, xerrors.New(xerrors.CodeValidation, "代币精度超出合理范围")
	}

	return TokenMetadata{
		Address:  tokenAddr.Hex(),
		Symbol:   symbol,
		Decimals: uint8(decimals.Uint64()),
	}, nil
}

// TokenBalance 查询 ERC-20 余额，返回最小单位整数。
func (g *EthGateway) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data := packCall(selectorBalanceOf, common.HexToAddress(owner).Bytes())
	raw, err := g.eth.CallContract(ctx, callMsg(common.HexToAddress(token), data), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "查询代币余额失败")
	}
	return new(big.Int).SetBytes(raw), nil
}

// Allowance 查询代币授权额度。
func (g *EthGateway) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data := packCall(selectorAllowance,
		common.HexToAddress(owner).Bytes(),
		common.HexToAddress(spender).Bytes())
	raw, err := g.eth.CallContract(ctx, callMsg(common.HexToAddress(token), data), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "查询授权额度失败")
	}
	return new(big.Int).SetBytes(raw), nil
}

// GasPrice 按用户的 gas 档位返回建议价格。
// 档位映射为建议价的 0.8 / 1.0 / 1.2 倍。
func (g *EthGateway) GasPrice(ctx context.Context, priority ledger.GasPriority) (*big.Int, error) {
	suggested, err := g.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "获取建议 gas 价格失败")
	}
	return ScaleGasPrice(suggested, priority), nil
}

// ScaleGasPrice 按档位缩放建议 gas 价格。
func ScaleGasPrice(suggested *big.Int, priority ledger.GasPriority) *big.Int {
	scaled := new(big.Int).Set(suggested)
	switch priority {
	case ledger.GasLow:
		scaled.Mul(scaled, big.NewInt(8))
		scaled.Div(scaled, big.NewInt(10))
	case ledger.GasHigh:
		scaled.Mul(scaled, big.NewInt(12))
		scaled.Div(scaled, big.NewInt(10))
	}
	return scaled
}

// SubmitTransaction 签名、广播并阻塞等待回执。
// 私钥只在本次调用内使用，调用方负责其生命周期。
func (g *EthGateway) SubmitTransaction(ctx context.Context, key *ecdsa.PrivateKey, params TxParams) (Receipt, error) {
	if key == nil {
		return Receipt{}, xerrors.New(xerrors.CodeValidation, "缺少签名私钥")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := g.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "获取 nonce 失败")
	}

	gasPrice := params.GasPrice
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		gasPrice, err = g.eth.SuggestGasPrice(ctx)
		if err != nil {
			return Receipt{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "获取建议 gas 价格失败")
		}
	}

	to := common.HexToAddress(params.To)
	value := params.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		estimated, err := g.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  params.Data,
		})
		if err != nil {
			return Receipt{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "估算 gas 失败")
		}
		// 留两成缓冲，避免边界估算导致 out-of-gas。
		gasLimit = estimated * 120 / 100
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     params.Data,
	})

	signedTx, err := coretypes.SignTx(tx, coretypes.NewEIP155Signer(g.chainID), key)
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeCrypto, err, "签名交易失败")
	}

	if err := g.eth.SendTransaction(ctx, signedTx); err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "广播交易失败")
	}

	return g.waitMined(ctx, signedTx.Hash())
}

// waitMined 轮询回执直到上链或超时。
func (g *EthGateway) waitMined(ctx context.Context, hash common.Hash) (Receipt, error) {
	deadline := time.NewTimer(g.receiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := g.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			status := ledger.TxFailure
			if receipt.Status == coretypes.ReceiptStatusSuccessful {
				status = ledger.TxSuccess
			}
			return Receipt{
				Hash:        hash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				Status:      status,
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if err != nil && !stdErrors.Is(err, ethereum.NotFound) {
			return Receipt{}, xerrors.Wrap(xerrors.CodeRemoteService, err, "查询交易回执失败")
		}

		select {
		case <-ctx.Done():
			return Receipt{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易回执被取消",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-deadline.C:
			return Receipt{}, xerrors.New(xerrors.CodeTimeout, "等待交易回执超时",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (g *EthGateway) call(ctx context.Context, to common.Address, selector []byte) ([]byte, error) {
	return g.eth.CallContract(ctx, callMsg(to, selector), nil)
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// Close 释放节点连接。
func (g *EthGateway) Close() {
	if g != nil && g.eth != nil {
		g.eth.Close()
	}
}

var _ Gateway = (*EthGateway)(nil)
