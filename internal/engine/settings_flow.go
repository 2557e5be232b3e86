package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/transport"
)

// startSettings 展示当前偏好并进入滑点设置步骤。
// 新用户在首次进入时即以默认值建档。
func (e *Engine) startSettings(ctx context.Context, sess *session.Session) error {
	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	if prefs.UpdatedAt == 0 {
		prefs.UpdatedAt = time.Now().Unix()
		if err := e.store.UpsertSettings(ctx, prefs); err != nil {
			return err
		}
		sess.Prefs = &prefs
	}
	sess.Step = session.StepSettingsAwaitingSlip
	return e.reply(ctx, sess.UserID, fmt.Sprintf(
		"当前偏好\n滑点: %.2f%%\nGas 档位: %s\n\n发送新的滑点百分比（0 到 50 之间），或 /cancel 保持不变。",
		prefs.SlippagePercent, prefs.GasPriority), nil)
}

// settingsSlippage 处理滑点输入，合法范围是 (0, 50]。
func (e *Engine) settingsSlippage(ctx context.Context, sess *session.Session, input string) error {
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	// ParseFloat 也接受 NaN/Inf 文本，与范围比较无法排除 NaN。
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 || value > 50 {
		return e.reply(ctx, sess.UserID, "滑点必须是 0 到 50 之间的数字，请重新输入。", nil)
	}
	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	prefs.SlippagePercent = value
	prefs.UpdatedAt = time.Now().Unix()
	if err := e.store.UpsertSettings(ctx, prefs); err != nil {
		return err
	}
	sess.Prefs = &prefs
	sess.Step = session.StepSettingsAwaitingGas
	return e.reply(ctx, sess.UserID,
		fmt.Sprintf("滑点已更新为 %.2f%%。\n选择 gas 档位:", value), gasButtons())
}

// settingsGas 处理 gas 档位按钮回调。
func (e *Engine) settingsGas(ctx context.Context, sess *session.Session, priority string) error {
	parsed, ok := parseGasPriority(priority)
	if !ok {
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	}
	return e.saveGasPriority(ctx, sess, parsed)
}

// settingsGasText 允许直接发送 low/medium/high 文本完成设置。
func (e *Engine) settingsGasText(ctx context.Context, sess *session.Session, input string) error {
	parsed, ok := parseGasPriority(input)
	if !ok {
		return e.reply(ctx, sess.UserID, "请选择 gas 档位按钮，或发送 low / medium / high。", gasButtons())
	}
	return e.saveGasPriority(ctx, sess, parsed)
}

func (e *Engine) saveGasPriority(ctx context.Context, sess *session.Session, priority ledger.GasPriority) error {
	prefs, err := e.prefs(ctx, sess)
	if err != nil {
		return err
	}
	prefs.GasPriority = priority
	prefs.UpdatedAt = time.Now().Unix()
	if err := e.store.UpsertSettings(ctx, prefs); err != nil {
		return err
	}
	sess.Prefs = &prefs
	sess.ResetFlow()
	return e.reply(ctx, sess.UserID, fmt.Sprintf(
		"偏好已保存。\n滑点: %.2f%%\nGas 档位: %s", prefs.SlippagePercent, prefs.GasPriority), nil)
}

func parseGasPriority(value string) (ledger.GasPriority, bool) {
	switch ledger.GasPriority(strings.ToLower(strings.TrimSpace(value))) {
	case ledger.GasLow:
		return ledger.GasLow, true
	case ledger.GasMedium:
		return ledger.GasMedium, true
	case ledger.GasHigh:
		return ledger.GasHigh, true
	default:
		return "", false
	}
}

func gasButtons() *transport.ReplyOptions {
	return &transport.ReplyOptions{Buttons: [][]transport.Button{{
		{Label: "低", Callback: transport.Callback{Kind: transport.CallbackGas, Priority: string(ledger.GasLow)}},
		{Label: "中", Callback: transport.Callback{Kind: transport.CallbackGas, Priority: string(ledger.GasMedium)}},
		{Label: "高", Callback: transport.Callback{Kind: transport.CallbackGas, Priority: string(ledger.GasHigh)}},
	}}}
}
