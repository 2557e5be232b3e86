package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/tokens"
	"OpenTrade-Bot/internal/transport"
	"OpenTrade-Bot/pkg/logger"
)

const historyLimit = 10

func confirmButtons() *transport.ReplyOptions {
	return transport.ConfirmButtons()
}

// showBalance 展示原生余额与用户交易过的代币余额。
// 没有钱包时不发起任何链上或账本查询。
func (e *Engine) showBalance(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}

	native, err := e.gateway.NativeBalance(ctx, wallet.Address)
	if err != nil {
		return err
	}
	lines := []string{
		fmt.Sprintf("地址: %s", wallet.Address),
		fmt.Sprintf("ETH: %s", FormatAmount(native, tokens.NativeDecimals)),
	}

	addrs, err := e.store.UniqueTokensForUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		if tokens.IsNative(addr) {
			continue
		}
		meta, err := e.gateway.TokenMetadata(ctx, addr)
		if err != nil {
			// 单个代币读取失败不影响其余余额的展示。
			logger.L().Warn("读取代币元信息失败",
				slog.String("token", addr),
				slog.String("error", err.Error()))
			continue
		}
		balance, err := e.gateway.TokenBalance(ctx, addr, wallet.Address)
		if err != nil {
			logger.L().Warn("读取代币余额失败",
				slog.String("token", addr),
				slog.String("error", err.Error()))
			continue
		}
		if balance.Sign() == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", meta.Symbol, FormatAmount(balance, meta.Decimals)))
	}
	return e.reply(ctx, sess.UserID, strings.Join(lines, "\n"), nil)
}

// showHistory 展示最近的链上交易记录。
func (e *Engine) showHistory(ctx context.Context, sess *session.Session) error {
	records, err := e.store.RecentTransactions(ctx, sess.UserID, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return e.reply(ctx, sess.UserID, "暂无交易记录。", nil)
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, "最近交易:")
	for _, record := range records {
		status := "成功"
		if record.Status == ledger.TxFailure {
			status = "失败"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s -> %s %s\n  %s",
			status,
			e.displayAmount(record.FromAmount, record.FromToken),
			e.tokenLabel(record.FromToken),
			e.displayAmount(record.ToAmount, record.ToToken),
			e.tokenLabel(record.ToToken),
			shortHash(record.Hash)))
	}
	return e.reply(ctx, sess.UserID, strings.Join(lines, "\n"), nil)
}

// tokenLabel 尽量把地址翻译成符号，翻译不了就展示缩短的地址。
func (e *Engine) tokenLabel(address string) string {
	if tokens.IsNative(address) {
		return "ETH"
	}
	if def, ok := e.registry.LookupByAddress(address); ok {
		return def.Symbol
	}
	return shortHash(address)
}

// displayAmount 把最小单位整数串格式化为可读金额。
// 精度未知的代币原样展示整数。
func (e *Engine) displayAmount(amount, token string) string {
	if amount == "" {
		return "?"
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	if tokens.IsNative(token) {
		return FormatAmount(value, tokens.NativeDecimals)
	}
	if def, ok := e.registry.LookupByAddress(token); ok {
		return FormatAmount(value, def.Decimals)
	}
	return amount
}

func shortHash(value string) string {
	if len(value) <= 14 {
		return value
	}
	return value[:8] + "…" + value[len(value)-6:]
}
