package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/pkg/logger"
)

// startCreate 为用户生成新钱包。已有钱包时要求追加 confirm 参数，
// 防止一条消息误覆盖旧私钥。
func (e *Engine) startCreate(ctx context.Context, sess *session.Session, args string) error {
	existing, err := e.custodian.Get(ctx, sess.UserID)
	if err != nil && !xerrors.IsCode(err, ledger.CodeWalletNotFound) {
		return err
	}
	if existing != nil && !strings.EqualFold(strings.TrimSpace(args), "confirm") {
		return e.reply(ctx, sess.UserID,
			fmt.Sprintf("你已有钱包 %s。\n重新创建会永久替换旧私钥，确认请发送 /create confirm。", existing.Address), nil)
	}

	wallet, err := e.custodian.Generate(ctx, sess.UserID)
	if err != nil {
		return err
	}
	logger.Audit().Info("钱包已创建",
		slog.String("user_id", sess.UserID),
		slog.String("address", wallet.Address))
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("钱包已创建。\n地址: %s\n\n请尽快用 /export 备份私钥并妥善保存。", wallet.Address), nil)
}

// finishImport 处理 importing_key 状态下的私钥文本。
func (e *Engine) finishImport(ctx context.Context, sess *session.Session, rawKey string) error {
	wallet, err := e.custodian.Import(ctx, sess.UserID, rawKey)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeValidation) {
			// 输入问题留在当前步骤重试。
			return e.reply(ctx, sess.UserID, "私钥格式不正确，请重新发送，或用 /cancel 取消。", nil)
		}
		return err
	}
	sess.ResetFlow()
	logger.Audit().Info("钱包已导入",
		slog.String("user_id", sess.UserID),
		slog.String("address", wallet.Address))
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("钱包已导入。\n地址: %s", wallet.Address), nil)
}

// startExport 进入导出确认步骤。
func (e *Engine) startExport(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	sess.Step = session.StepExportAwaitingConfirm
	return e.reply(ctx, sess.UserID,
		"即将以明文展示你的私钥，任何看到它的人都能转走你的全部资产。\n确认导出吗？",
		confirmButtons())
}

// confirmExport 处理导出确认回调。
func (e *Engine) confirmExport(ctx context.Context, sess *session.Session, approve bool) error {
	if !approve {
		sess.ResetFlow()
		return e.edit(ctx, sess.UserID, msgCancelled, nil)
	}
	key, err := e.custodian.ExportKey(ctx, sess.UserID)
	if err != nil {
		return err
	}
	sess.ResetFlow()
	logger.Audit().Info("私钥已导出", slog.String("user_id", sess.UserID))
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("你的私钥:\n%s\n\n请立即妥善保存并删除这条消息。", key), nil)
}

// showWallet 展示钱包地址与来源。
func (e *Engine) showWallet(ctx context.Context, sess *session.Session) error {
	wallet, err := e.requireWallet(ctx, sess)
	if err != nil || wallet == nil {
		return err
	}
	origin := "新建"
	if wallet.Origin == ledger.OriginImported {
		origin = "导入"
	}
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("地址: %s\n来源: %s", wallet.Address, origin), nil)
}
