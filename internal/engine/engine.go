package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"OpenTrade-Bot/internal/chain"
	"OpenTrade-Bot/internal/custody"
	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/observability/alerting"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/swap"
	"OpenTrade-Bot/internal/tokens"
	"OpenTrade-Bot/internal/transport"
	"OpenTrade-Bot/pkg/logger"
)

const (
	msgHelp = "可用命令:\n" +
		"/create - 创建新钱包\n" +
		"/import - 导入已有私钥\n" +
		"/wallet - 查看钱包地址\n" +
		"/balance - 查看余额\n" +
		"/buy - 买入代币\n" +
		"/sell - 卖出代币\n" +
		"/withdraw - 提现原生资产\n" +
		"/history - 最近交易\n" +
		"/settings - 交易偏好\n" +
		"/export - 导出私钥\n" +
		"/cancel - 取消当前操作"
	msgNoWallet       = "你还没有钱包，先用 /create 创建或 /import 导入一个。"
	msgUnknownAction  = "未知操作。"
	msgGenericFailure = "操作失败，请稍后再试。"
	msgCancelled      = "已取消，当前没有进行中的操作。"
)

// Deps 汇总会话引擎的全部依赖。
type Deps struct {
	Sessions  session.Store
	Ledger    ledger.Store
	Custodian *custody.Custodian
	Gateway   chain.Gateway
	Provider  swap.Provider
	Tokens    *tokens.Registry
	Replier   transport.Replier
	Alerts    alerting.Dispatcher
}

// Engine 是会话状态机的编排者：把入站事件与当前会话状态
// 映射为一次动作与恰好一条出站回复。
type Engine struct {
	sessions  session.Store
	store     ledger.Store
	custodian *custody.Custodian
	gateway   chain.Gateway
	provider  swap.Provider
	registry  *tokens.Registry
	replier   transport.Replier
	alerts    alerting.Dispatcher

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// New 创建会话引擎。
func New(deps Deps) (*Engine, error) {
	if deps.Sessions == nil || deps.Ledger == nil || deps.Custodian == nil ||
		deps.Gateway == nil || deps.Provider == nil || deps.Replier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话引擎依赖不完整")
	}
	registry := deps.Tokens
	if registry == nil {
		registry = tokens.NewStatic()
	}
	return &Engine{
		sessions:  deps.Sessions,
		store:     deps.Ledger,
		custodian: deps.Custodian,
		gateway:   deps.Gateway,
		provider:  deps.Provider,
		registry:  registry,
		replier:   deps.Replier,
		alerts:    deps.Alerts,
		userLocks: make(map[string]*sync.Mutex),
	}, nil
}

// HandleEvent 处理单个入站事件。同一用户的事件全程串行，
// 跨用户事件并发互不影响。
func (e *Engine) HandleEvent(ctx context.Context, event transport.Event) error {
	if event.UserID == "" {
		return xerrors.New(xerrors.CodeValidation, "事件缺少用户 ID")
	}
	lock := e.userLock(event.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.ensureUser(ctx, event); err != nil {
		return e.failEvent(ctx, nil, event, err)
	}
	sess, err := e.sessions.Get(ctx, event.UserID)
	if err != nil {
		return e.failEvent(ctx, nil, event, err)
	}

	if err := e.dispatch(ctx, sess, event); err != nil {
		return e.failEvent(ctx, sess, event, err)
	}

	if err := e.sessions.Put(ctx, sess); err != nil {
		// 已经回复过用户，这里只记录并告警，不再发第二条消息。
		logger.L().Error("写回会话失败",
			slog.String("event_id", event.ID),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()))
		e.alert(ctx, event, err)
		return err
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, sess *session.Session, event transport.Event) error {
	switch event.Kind {
	case transport.EventCommand:
		return e.handleCommand(ctx, sess, event)
	case transport.EventText:
		return e.handleText(ctx, sess, event)
	case transport.EventCallback:
		return e.handleCallback(ctx, sess, event)
	default:
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	}
}

func (e *Engine) handleCommand(ctx context.Context, sess *session.Session, event transport.Event) error {
	if event.Command == "cancel" {
		if sess.Step == session.StepIdle {
			return e.reply(ctx, sess.UserID, "当前没有进行中的操作。", nil)
		}
		sess.ResetFlow()
		return e.reply(ctx, sess.UserID, msgCancelled, nil)
	}

	// 任何命令都会丢弃上一个流程的中间状态。
	sess.ResetFlow()

	switch event.Command {
	case "start", "help":
		return e.reply(ctx, sess.UserID, msgHelp, nil)
	case "create":
		return e.startCreate(ctx, sess, event.Text)
	case "import":
		sess.Step = session.StepImportingKey
		return e.reply(ctx, sess.UserID, "请发送要导入的私钥（64 位十六进制，可带 0x 前缀）。", nil)
	case "export":
		return e.startExport(ctx, sess)
	case "wallet":
		return e.showWallet(ctx, sess)
	case "balance":
		return e.showBalance(ctx, sess)
	case "history":
		return e.showHistory(ctx, sess)
	case "buy":
		return e.startBuy(ctx, sess)
	case "sell":
		return e.startSell(ctx, sess)
	case "withdraw":
		return e.startWithdraw(ctx, sess)
	case "settings":
		return e.startSettings(ctx, sess)
	default:
		return e.reply(ctx, sess.UserID, "无法识别的命令。\n\n"+msgHelp, nil)
	}
}

func (e *Engine) handleText(ctx context.Context, sess *session.Session, event transport.Event) error {
	switch sess.Step {
	case session.StepIdle:
		// 空闲态的自由文本不解释为命令。
		return e.reply(ctx, sess.UserID, msgHelp, nil)
	case session.StepImportingKey:
		return e.finishImport(ctx, sess, event.Text)
	case session.StepBuyAwaitingToken:
		return e.buyToken(ctx, sess, event.Text)
	case session.StepBuyAwaitingAmount:
		return e.buyAmount(ctx, sess, event.Text)
	case session.StepSellAwaitingToken:
		return e.sellToken(ctx, sess, event.Text)
	case session.StepSellAwaitingAmount:
		return e.sellAmount(ctx, sess, event.Text)
	case session.StepWithdrawAwaitingAddr:
		return e.withdrawAddress(ctx, sess, event.Text)
	case session.StepWithdrawAwaitingAmount:
		return e.withdrawAmount(ctx, sess, event.Text)
	case session.StepSettingsAwaitingSlip:
		return e.settingsSlippage(ctx, sess, event.Text)
	case session.StepSettingsAwaitingGas:
		return e.settingsGasText(ctx, sess, event.Text)
	default:
		if sess.Step.IsConfirm() {
			return e.reply(ctx, sess.UserID, "请使用按钮确认，或发送 /cancel 取消。", nil)
		}
		return e.reply(ctx, sess.UserID, msgHelp, nil)
	}
}

func (e *Engine) handleCallback(ctx context.Context, sess *session.Session, event transport.Event) error {
	cb := event.Callback
	if cb == nil {
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	}
	switch cb.Kind {
	case transport.CallbackConfirm:
		if !sess.Step.IsConfirm() {
			// 过期的确认按钮不改变任何状态。
			return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
		}
		switch sess.Step {
		case session.StepBuyAwaitingConfirm:
			return e.confirmBuy(ctx, sess, cb.Approve)
		case session.StepSellAwaitingConfirm:
			return e.confirmSell(ctx, sess, cb.Approve)
		case session.StepWithdrawAwaitingConfirm:
			return e.confirmWithdraw(ctx, sess, cb.Approve)
		case session.StepExportAwaitingConfirm:
			return e.confirmExport(ctx, sess, cb.Approve)
		}
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	case transport.CallbackToken:
		switch sess.Step {
		case session.StepBuyAwaitingToken:
			return e.buyToken(ctx, sess, cb.Symbol)
		case session.StepSellAwaitingToken:
			return e.sellToken(ctx, sess, cb.Symbol)
		}
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	case transport.CallbackGas:
		if sess.Step != session.StepSettingsAwaitingGas {
			return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
		}
		return e.settingsGas(ctx, sess, cb.Priority)
	default:
		return e.reply(ctx, sess.UserID, msgUnknownAction, nil)
	}
}

// failEvent 是每个事件唯一的顶层错误出口：记录日志、按需告警、
// 把会话强制拉回空闲态，并给用户恰好一条不含内部细节的回复。
func (e *Engine) failEvent(ctx context.Context, sess *session.Session, event transport.Event, cause error) error {
	logger.L().Error("事件处理失败",
		slog.String("event_id", event.ID),
		slog.String("user_id", event.UserID),
		slog.String("code", string(xerrors.CodeOf(cause))),
		slog.String("error", cause.Error()))
	e.alert(ctx, event, cause)

	if sess != nil {
		sess.ResetFlow()
		if err := e.sessions.Put(ctx, sess); err != nil {
			logger.L().Error("错误恢复时写回会话失败",
				slog.String("user_id", event.UserID),
				slog.String("error", err.Error()))
		}
	}
	if err := e.reply(ctx, event.UserID, msgGenericFailure, nil); err != nil {
		logger.L().Error("发送失败回复失败",
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()))
	}
	return cause
}

func (e *Engine) alert(ctx context.Context, event transport.Event, cause error) {
	if e.alerts == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	alertEvent := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		UserID:     event.UserID,
		EventID:    event.ID,
		OccurredAt: time.Now(),
	}
	if xe, ok := xerrors.From(cause); ok {
		alertEvent.Metadata = xe.Metadata()
	}
	if err := e.alerts.Notify(ctx, alertEvent); err != nil {
		logger.L().Warn("发送告警失败", slog.String("error", err.Error()))
	}
}

func (e *Engine) reply(ctx context.Context, userID, text string, opts *transport.ReplyOptions) error {
	if err := e.replier.Reply(ctx, userID, text, opts); err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "发送回复失败")
	}
	return nil
}

func (e *Engine) edit(ctx context.Context, userID, text string, opts *transport.ReplyOptions) error {
	if err := e.replier.EditLastMessage(ctx, userID, text, opts); err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "更新回复失败")
	}
	return nil
}

// ensureUser 在首次接触时建档，之后只更新展示字段。
func (e *Engine) ensureUser(ctx context.Context, event transport.Event) error {
	existing, err := e.store.GetUser(ctx, event.UserID)
	if err != nil && !xerrors.IsCode(err, ledger.CodeUserNotFound) {
		return err
	}
	if existing != nil {
		if event.DisplayName == "" || existing.DisplayName == event.DisplayName {
			return nil
		}
		existing.DisplayName = event.DisplayName
		return e.store.UpsertUser(ctx, *existing)
	}
	return e.store.UpsertUser(ctx, ledger.User{
		ID:          event.UserID,
		DisplayName: event.DisplayName,
		CreatedAt:   time.Now().Unix(),
	})
}

// prefs 返回用户偏好，优先用会话缓存，落库记录缺失时用默认值。
func (e *Engine) prefs(ctx context.Context, sess *session.Session) (ledger.Settings, error) {
	if sess.Prefs != nil {
		return *sess.Prefs, nil
	}
	stored, err := e.store.GetSettings(ctx, sess.UserID)
	if err != nil {
		if xerrors.IsCode(err, ledger.CodeSettingsNotFound) {
			defaults := ledger.DefaultSettings(sess.UserID)
			sess.Prefs = &defaults
			return defaults, nil
		}
		return ledger.Settings{}, err
	}
	sess.Prefs = stored
	return *stored, nil
}

// requireWallet 读取用户钱包，没有钱包时直接回复引导消息并返回 nil 记录。
func (e *Engine) requireWallet(ctx context.Context, sess *session.Session) (*ledger.Wallet, error) {
	wallet, err := e.custodian.Get(ctx, sess.UserID)
	if err != nil {
		if xerrors.IsCode(err, ledger.CodeWalletNotFound) {
			return nil, e.reply(ctx, sess.UserID, msgNoWallet, nil)
		}
		return nil, err
	}
	return wallet, nil
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}
