package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"OpenTrade-Bot/internal/chain"
	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/swap"
	"OpenTrade-Bot/internal/tokens"
	"OpenTrade-Bot/internal/transport"
	"OpenTrade-Bot/pkg/logger"
)

// startBuy 进入买入流程的选币步骤。
func (e *Engine) startBuy(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	sess.Step = session.StepBuyAwaitingToken
	sess.Buy = &session.BuyData{}
	return e.reply(ctx, sess.UserID,
		"要买入哪个代币？从列表选择，或直接发送代币合约地址。", e.tokenButtons())
}

// startSell 进入卖出流程的选币步骤。
func (e *Engine) startSell(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	sess.Step = session.StepSellAwaitingToken
	sess.Sell = &session.SellData{}
	return e.reply(ctx, sess.UserID,
		"要卖出哪个代币？从列表选择，或直接发送代币合约地址。", e.tokenButtons())
}

// buyToken 处理买入流程的选币输入。
func (e *Engine) buyToken(ctx context.Context, sess *session.Session, input string) error {
	meta, err := e.resolveToken(ctx, sess, input)
	if err != nil || meta == nil {
		return err
	}
	sess.Buy = &session.BuyData{
		TokenAddress:  meta.Address,
		TokenSymbol:   meta.Symbol,
		TokenDecimals: meta.Decimals,
	}
	sess.Step = session.StepBuyAwaitingAmount
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("买入 %s。要花多少 ETH？", meta.Symbol), nil)
}

// sellToken 处理卖出流程的选币输入。原生资产不能卖给自己。
func (e *Engine) sellToken(ctx context.Context, sess *session.Session, input string) error {
	meta, err := e.resolveToken(ctx, sess, input)
	if err != nil || meta == nil {
		return err
	}
	if tokens.IsNative(meta.Address) {
		return e.reply(ctx, sess.UserID, "原生资产请使用 /withdraw 提现。", nil)
	}
	sess.Sell = &session.SellData{
		TokenAddress:  meta.Address,
		TokenSymbol:   meta.Symbol,
		TokenDecimals: meta.Decimals,
	}
	sess.Step = session.StepSellAwaitingAmount
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("卖出 %s。要卖多少？", meta.Symbol), nil)
}

// buyAmount 处理买入金额，校验余额后请求报价并进入确认步骤。
func (e *Engine) buyAmount(ctx context.Context, sess *session.Session, input string) error {
	if sess.Buy == nil || sess.Buy.TokenAddress == "" {
		sess.ResetFlow()
		return e.reply(ctx, sess.UserID, msgGenericFailure, nil)
	}
	amount, err := ParseAmount(input, tokens.NativeDecimals)
	if err != nil {
		return e.reply(ctx, sess.UserID, "金额无效，请重新输入，例如 0.5。", nil)
	}

	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	balance, err := e.gateway.NativeBalance(ctx, wallet.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("余额不足，当前 %s ETH，请重新输入金额。",
				FormatAmount(balance, tokens.NativeDecimals)), nil)
	}

	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	gasPrice, err := e.gateway.GasPrice(ctx, prefs.GasPriority)
	if err != nil {
		return err
	}
	human := NormalizeAmount(input)
	quote, err := e.provider.Quote(ctx, tokens.NativePlaceholder, sess.Buy.TokenAddress, human, gasPrice.String())
	if err != nil {
		return err
	}

	sess.Buy.AmountIn = amount.String()
	sess.Buy.AmountInHuman = human
	sess.Buy.QuoteOut = quote.OutAmount
	sess.Buy.EstimatedGas = quote.EstimatedGas
	sess.Buy.GasPrice = gasPrice.String()
	sess.Step = session.StepBuyAwaitingConfirm

	out := e.displayAmount(quote.OutAmount, sess.Buy.TokenAddress)
	return e.reply(ctx, sess.UserID, fmt.Sprintf(
		"买入确认\n花费: %s ETH\n预计获得: %s %s\n滑点: %.2f%%\nGas 档位: %s\n\n报价仅为估算，确认后按最新价格成交。",
		human, out, sess.Buy.TokenSymbol, prefs.SlippagePercent, prefs.GasPriority),
		confirmButtons())
}

// sellAmount 处理卖出数量，校验代币余额后请求报价并进入确认步骤。
func (e *Engine) sellAmount(ctx context.Context, sess *session.Session, input string) error {
	if sess.Sell == nil || sess.Sell.TokenAddress == "" {
		sess.ResetFlow()
		return e.reply(ctx, sess.UserID, msgGenericFailure, nil)
	}
	amount, err := ParseAmount(input, sess.Sell.TokenDecimals)
	if err != nil {
		return e.reply(ctx, sess.UserID, "数量无效，请重新输入。", nil)
	}

	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	balance, err := e.gateway.TokenBalance(ctx, sess.Sell.TokenAddress, wallet.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("%s 余额不足，当前 %s，请重新输入数量。",
				sess.Sell.TokenSymbol, FormatAmount(balance, sess.Sell.TokenDecimals)), nil)
	}

	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	gasPrice, err := e.gateway.GasPrice(ctx, prefs.GasPriority)
	if err != nil {
		return err
	}
	human := NormalizeAmount(input)
	quote, err := e.provider.Quote(ctx, sess.Sell.TokenAddress, tokens.NativePlaceholder, human, gasPrice.String())
	if err != nil {
		return err
	}

	sess.Sell.AmountIn = amount.String()
	sess.Sell.AmountInHuman = human
	sess.Sell.QuoteOut = quote.OutAmount
	sess.Sell.EstimatedGas = quote.EstimatedGas
	sess.Sell.GasPrice = gasPrice.String()
	sess.Step = session.StepSellAwaitingConfirm

	out := e.displayAmount(quote.OutAmount, tokens.NativePlaceholder)
	return e.reply(ctx, sess.UserID, fmt.Sprintf(
		"卖出确认\n卖出: %s %s\n预计获得: %s ETH\n滑点: %.2f%%\nGas 档位: %s\n\n报价仅为估算，确认后按最新价格成交。",
		human, sess.Sell.TokenSymbol, out, prefs.SlippagePercent, prefs.GasPriority),
		confirmButtons())
}

// confirmBuy 处理买入确认回调。
func (e *Engine) confirmBuy(ctx context.Context, sess *session.Session, approve bool) error {
	if !approve {
		sess.ResetFlow()
		return e.edit(ctx, sess.UserID, msgCancelled, nil)
	}
	flow := sess.Buy
	if flow == nil || flow.AmountIn == "" {
		sess.ResetFlow()
		return e.reply(ctx, sess.UserID, msgGenericFailure, nil)
	}
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	// gas 行情可能已变化，执行前重新取价。
	gasPrice, err := e.gateway.GasPrice(ctx, prefs.GasPriority)
	if err != nil {
		return err
	}
	swapData, err := e.provider.Swap(ctx, tokens.NativePlaceholder, flow.TokenAddress,
		flow.AmountInHuman, gasPrice.String(), prefs.SlippagePercent, wallet.Address)
	if err != nil {
		return err
	}
	params, err := buildTxParams(swapData, gasPrice)
	if err != nil {
		return err
	}

	receipt, err := e.custodian.SignAndSubmit(ctx, wallet, params)
	if err != nil {
		return err
	}
	e.recordOutcome(ctx, ledger.TxRecord{
		Hash:          receipt.Hash,
		UserID:        sess.UserID,
		WalletAddress: wallet.Address,
		FromToken:     tokens.NativePlaceholder,
		ToToken:       flow.TokenAddress,
		FromAmount:    flow.AmountIn,
		ToAmount:      swapData.OutAmount,
		Status:        receipt.Status,
		GasUsed:       receipt.GasUsed,
		CreatedAt:     time.Now().Unix(),
	})
	symbol := flow.TokenSymbol
	sess.ResetFlow()
	if receipt.Status != ledger.TxSuccess {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("买入交易已上链但执行失败。\n哈希: %s", receipt.Hash), nil)
	}
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("买入 %s 成功。\n哈希: %s", symbol, receipt.Hash), nil)
}

// confirmSell 处理卖出确认回调。非原生代币在换入前先确保授权额度，
// 授权交易必须先上链并复核通过，换入才会提交。
func (e *Engine) confirmSell(ctx context.Context, sess *session.Session, approve bool) error {
	if !approve {
		sess.ResetFlow()
		return e.edit(ctx, sess.UserID, msgCancelled, nil)
	}
	flow := sess.Sell
	if flow == nil || flow.AmountIn == "" {
		sess.ResetFlow()
		return e.reply(ctx, sess.UserID, msgGenericFailure, nil)
	}
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	gasPrice, err := e.gateway.GasPrice(ctx, prefs.GasPriority)
	if err != nil {
		return err
	}
	swapData, err := e.provider.Swap(ctx, flow.TokenAddress, tokens.NativePlaceholder,
		flow.AmountInHuman, gasPrice.String(), prefs.SlippagePercent, wallet.Address)
	if err != nil {
		return err
	}

	amountIn, ok := new(big.Int).SetString(flow.AmountIn, 10)
	if !ok {
		return xerrors.New(xerrors.CodeValidation, "会话中的卖出数量已损坏")
	}
	allowance, err := e.gateway.Allowance(ctx, flow.TokenAddress, wallet.Address, swapData.To)
	if err != nil {
		return err
	}
	if allowance.Cmp(amountIn) < 0 {
		approveReceipt, err := e.custodian.SignAndSubmit(ctx, wallet, chain.TxParams{
			To:       flow.TokenAddress,
			Data:     chain.BuildApproveData(swapData.To, amountIn),
			GasPrice: gasPrice,
		})
		if err != nil {
			return err
		}
		logger.Audit().Info("授权交易已上链",
			slog.String("user_id", sess.UserID),
			slog.String("token", flow.TokenAddress),
			slog.String("tx_hash", approveReceipt.Hash),
			slog.String("status", string(approveReceipt.Status)))
		if approveReceipt.Status != ledger.TxSuccess {
			sess.ResetFlow()
			return e.reply(ctx, sess.UserID,
				fmt.Sprintf("授权交易失败，已中止卖出。\n哈希: %s", approveReceipt.Hash), nil)
		}
		allowance, err = e.gateway.Allowance(ctx, flow.TokenAddress, wallet.Address, swapData.To)
		if err != nil {
			return err
		}
		if allowance.Cmp(amountIn) < 0 {
			sess.ResetFlow()
			return e.reply(ctx, sess.UserID, "授权后额度仍不足，已中止卖出。", nil)
		}
	}

	params, err := buildTxParams(swapData, gasPrice)
	if err != nil {
		return err
	}
	receipt, err := e.custodian.SignAndSubmit(ctx, wallet, params)
	if err != nil {
		return err
	}
	e.recordOutcome(ctx, ledger.TxRecord{
		Hash:          receipt.Hash,
		UserID:        sess.UserID,
		WalletAddress: wallet.Address,
		FromToken:     flow.TokenAddress,
		ToToken:       tokens.NativePlaceholder,
		FromAmount:    flow.AmountIn,
		ToAmount:      swapData.OutAmount,
		Status:        receipt.Status,
		GasUsed:       receipt.GasUsed,
		CreatedAt:     time.Now().Unix(),
	})
	symbol := flow.TokenSymbol
	sess.ResetFlow()
	if receipt.Status != ledger.TxSuccess {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("卖出交易已上链但执行失败。\n哈希: %s", receipt.Hash), nil)
	}
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("卖出 %s 成功。\n哈希: %s", symbol, receipt.Hash), nil)
}

// resolveToken 把用户输入解析为链上代币元信息。解析失败时
// 直接回复提示并返回 nil，调用方停留在当前步骤。
func (e *Engine) resolveToken(ctx context.Context, sess *session.Session, input string) (*chain.TokenMetadata, error) {
	cleaned := strings.TrimSpace(input)
	address := cleaned
	if !isHexAddress(cleaned) {
		def, ok := e.registry.Lookup(cleaned)
		if !ok {
			err := e.reply(ctx, sess.UserID,
				"不认识这个代币，请从列表选择或发送代币合约地址。", e.tokenButtons())
			return nil, err
		}
		address = def.Address
	}
	meta, err := e.gateway.TokenMetadata(ctx, address)
	if err != nil {
		logger.L().Warn("读取代币元信息失败",
			slog.String("token", address),
			slog.String("error", err.Error()))
		replyErr := e.reply(ctx, sess.UserID,
			"无法读取该代币信息，请确认地址后重试。", nil)
		return nil, replyErr
	}
	return &meta, nil
}

// recordOutcome 在回执已知后落账。落账失败不能吞掉已上链的结果，
// 只记录并告警，用户仍会收到交易结论。
func (e *Engine) recordOutcome(ctx context.Context, record ledger.TxRecord) {
	if err := e.store.RecordTransaction(ctx, record); err != nil {
		logger.L().Error("交易落账失败",
			slog.String("tx_hash", record.Hash),
			slog.String("user_id", record.UserID),
			slog.String("error", err.Error()))
		e.alert(ctx, transport.Event{ID: record.Hash, UserID: record.UserID}, err)
		return
	}
	logger.Audit().Info("交易已落账",
		slog.String("tx_hash", record.Hash),
		slog.String("user_id", record.UserID),
		slog.String("from_token", record.FromToken),
		slog.String("to_token", record.ToToken),
		slog.String("from_amount", record.FromAmount),
		slog.String("status", string(record.Status)))
}

// buildTxParams 把聚合器返回的交易字段换算为链上提交参数。
func buildTxParams(data *swap.SwapData, gasPrice *big.Int) (chain.TxParams, error) {
	value, err := parseBigValue(data.Value)
	if err != nil {
		return chain.TxParams{}, err
	}
	payload, err := hexBytes(data.Data)
	if err != nil {
		return chain.TxParams{}, err
	}
	return chain.TxParams{
		To:       data.To,
		Value:    value,
		Data:     payload,
		GasPrice: gasPrice,
	}, nil
}

// parseBigValue 兼容十进制与 0x 十六进制两种金额表示。
func parseBigValue(raw string) (*big.Int, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return big.NewInt(0), nil
	}
	base := 10
	if strings.HasPrefix(cleaned, "0x") || strings.HasPrefix(cleaned, "0X") {
		cleaned = cleaned[2:]
		base = 16
	}
	value, ok := new(big.Int).SetString(cleaned, base)
	if !ok {
		return nil, xerrors.New(xerrors.CodeRemoteService, "聚合器返回的金额不可解析")
	}
	return value, nil
}

func hexBytes(raw string) ([]byte, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	payload, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "聚合器返回的交易数据不可解析")
	}
	return payload, nil
}

func isHexAddress(value string) bool {
	if len(value) != 42 || !strings.HasPrefix(value, "0x") {
		return false
	}
	for i := 2; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// tokenButtons 把常用代币清单铺成按钮，每行三个。
func (e *Engine) tokenButtons() *transport.ReplyOptions {
	symbols := e.registry.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	sort.Strings(symbols)
	var rows [][]transport.Button
	var row []transport.Button
	for _, symbol := range symbols {
		row = append(row, transport.Button{
			Label:    symbol,
			Callback: transport.Callback{Kind: transport.CallbackToken, Symbol: symbol},
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &transport.ReplyOptions{Buttons: rows}
}
