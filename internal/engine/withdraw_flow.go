package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"OpenTrade-Bot/internal/chain"
	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/tokens"
)

// startWithdraw 进入提现流程的收款地址步骤。
func (e *Engine) startWithdraw(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	sess.Step = session.StepWithdrawAwaitingAddr
	sess.Withdraw = &session.WithdrawData{}
	return e.reply(ctx, sess.UserID, "请发送收款地址（0x 开头的 40 位十六进制）。", nil)
}

// withdrawAddress 处理收款地址输入。
func (e *Engine) withdrawAddress(ctx context.Context, sess *session.Session, input string) error {
	address := strings.TrimSpace(input)
	if !isHexAddress(address) {
		return e.reply(ctx, sess.UserID, "地址格式不正确，请重新发送。", nil)
	}
	if sess.Withdraw == nil {
		sess.Withdraw = &session.WithdrawData{}
	}
	sess.Withdraw.Recipient = address
	sess.Step = session.StepWithdrawAwaitingAmount
	return e.reply(ctx, sess.UserID, "要提现多少 ETH？", nil)
}

// withdrawAmount 处理提现金额。余额不足时留在当前步骤重试。
func (e *Engine) withdrawAmount(ctx context.Context, sess *session.Session, input string) error {
	if sess.Withdraw == nil || sess.Withdraw.Recipient == "" {
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

	human := NormalizeAmount(input)
	sess.Withdraw.Amount = amount.String()
	sess.Withdraw.AmountHuman = human
	sess.Step = session.StepWithdrawAwaitingConfirm
	return e.reply(ctx, sess.UserID, fmt.Sprintf(
		"提现确认\n金额: %s ETH\n收款地址: %s\n\n提现不含 gas 费用，实际到账以链上为准。",
		human, sess.Withdraw.Recipient), confirmButtons())
}

// confirmWithdraw 处理提现确认回调，直接做原生转账，无需报价与授权。
func (e *Engine) confirmWithdraw(ctx context.Context, sess *session.Session, approve bool) error {
	if !approve {
		sess.ResetFlow()
		return e.edit(ctx, sess.UserID, msgCancelled, nil)
	}
	flow := sess.Withdraw
	if flow == nil || flow.Amount == "" || flow.Recipient == "" {
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
	amount, ok := new(big.Int).SetString(flow.Amount, 10)
	if !ok {
		return xerrors.New(xerrors.CodeValidation, "会话中的提现金额已损坏")
	}

	receipt, err := e.custodian.SignAndSubmit(ctx, wallet, chain.TxParams{
		To:       flow.Recipient,
		Value:    amount,
		GasPrice: gasPrice,
	})
	if err != nil {
		return err
	}
	e.recordOutcome(ctx, ledger.TxRecord{
		Hash:          receipt.Hash,
		UserID:        sess.UserID,
		WalletAddress: wallet.Address,
		FromToken:     tokens.NativePlaceholder,
		ToToken:       tokens.NativePlaceholder,
		FromAmount:    flow.Amount,
		ToAmount:      flow.Amount,
		Status:        receipt.Status,
		GasUsed:       receipt.GasUsed,
		CreatedAt:     time.Now().Unix(),
	})
	sess.ResetFlow()
	if receipt.Status != ledger.TxSuccess {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("提现交易已上链但执行失败。\n哈希: %s", receipt.Hash), nil)
	}
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("提现成功。\n哈希: %s", receipt.Hash), nil)
}
