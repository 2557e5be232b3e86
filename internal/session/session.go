package session

import (
	"context"
	"time"

	"OpenTrade-Bot/internal/ledger"
)

// Step 表示用户当前所处的会话步骤。
type Step string

const (
	StepIdle                    Step = "idle"
	StepImportingKey            Step = "importing_key"
	StepBuyAwaitingToken        Step = "buy_awaiting_token"
	StepBuyAwaitingAmount       Step = "buy_awaiting_amount"
	StepBuyAwaitingConfirm      Step = "buy_awaiting_confirm"
	StepSellAwaitingToken       Step = "sell_awaiting_token"
	StepSellAwaitingAmount      Step = "sell_awaiting_amount"
	StepSellAwaitingConfirm     Step = "sell_awaiting_confirm"
	StepWithdrawAwaitingAddr    Step = "withdraw_awaiting_address"
	StepWithdrawAwaitingAmount  Step = "withdraw_awaiting_amount"
	StepWithdrawAwaitingConfirm Step = "withdraw_awaiting_confirm"
	StepExportAwaitingConfirm   Step = "export_awaiting_confirm"
	StepSettingsAwaitingSlip    Step = "settings_awaiting_slippage"
	StepSettingsAwaitingGas     Step = "settings_awaiting_gas"
)

// IsValid 检查步骤是否为已知枚举值。
func (s Step) IsValid() bool {
	switch s {
	case StepIdle, StepImportingKey,
		StepBuyAwaitingToken, StepBuyAwaitingAmount, StepBuyAwaitingConfirm,
		StepSellAwaitingToken, StepSellAwaitingAmount, StepSellAwaitingConfirm,
		StepWithdrawAwaitingAddr, StepWithdrawAwaitingAmount, StepWithdrawAwaitingConfirm,
		StepExportAwaitingConfirm,
		StepSettingsAwaitingSlip, StepSettingsAwaitingGas:
		return true
	default:
		return false
	}
}

// IsConfirm 判断步骤是否在等待确认按钮。
func (s Step) IsConfirm() bool {
	switch s {
	case StepBuyAwaitingConfirm, StepSellAwaitingConfirm,
		StepWithdrawAwaitingConfirm, StepExportAwaitingConfirm:
		return true
	default:
		return false
	}
}

// BuyData 是买入流程逐步累积的字段。
type BuyData struct {
	TokenAddress  string `json:"token_address"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals uint8  `json:"token_decimals"`
	// AmountIn 是付出的原生资产数量，最小单位整数串。
	AmountIn      string `json:"amount_in"`
	AmountInHuman string `json:"amount_in_human"`
	QuoteOut      string `json:"quote_out"`
	EstimatedGas  uint64 `json:"estimated_gas"`
	GasPrice      string `json:"gas_price"`
}

// SellData 是卖出流程逐步累积的字段。
type SellData struct {
	TokenAddress  string `json:"token_address"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals uint8  `json:"token_decimals"`
	// AmountIn 是卖出的代币数量，最小单位整数串。
	AmountIn      string `json:"amount_in"`
	AmountInHuman string `json:"amount_in_human"`
	QuoteOut      string `json:"quote_out"`
	EstimatedGas  uint64 `json:"estimated_gas"`
	GasPrice      string `json:"gas_price"`
}

// WithdrawData 是提现流程逐步累积的字段。
type WithdrawData struct {
	Recipient string `json:"recipient"`
	// Amount 是提现的原生资产数量，最小单位整数串。
	Amount      string `json:"amount"`
	AmountHuman string `json:"amount_human"`
}

// Session 保存单个用户的会话状态。每个流程的字段各自独立，
// 避免不同流程复用同一个开放字典。
type Session struct {
	UserID    string           `json:"user_id"`
	Step      Step             `json:"step"`
	Buy       *BuyData         `json:"buy,omitempty"`
	Sell      *SellData        `json:"sell,omitempty"`
	Withdraw  *WithdrawData    `json:"withdraw,omitempty"`
	Prefs     *ledger.Settings `json:"prefs,omitempty"`
	UpdatedAt int64            `json:"updated_at"`
}

// NewSession 返回处于空闲态的新会话。
func NewSession(userID string) *Session {
	return &Session{
		UserID:    userID,
		Step:      StepIdle,
		UpdatedAt: time.Now().Unix(),
	}
}

// ResetFlow 清空流程数据并回到空闲态。缓存的偏好保留。
func (s *Session) ResetFlow() {
	s.Step = StepIdle
	s.Buy = nil
	s.Sell = nil
	s.Withdraw = nil
}

// Clone 返回会话的深拷贝，流程数据与偏好各自复制。
func (s *Session) Clone() *Session {
	clone := *s
	if s.Buy != nil {
		buy := *s.Buy
		clone.Buy = &buy
	}
	if s.Sell != nil {
		sell := *s.Sell
		clone.Sell = &sell
	}
	if s.Withdraw != nil {
		withdraw := *s.Withdraw
		clone.Withdraw = &withdraw
	}
	if s.Prefs != nil {
		prefs := *s.Prefs
		clone.Prefs = &prefs
	}
	return &clone
}

// Normalize 把未知步骤当作空闲态处理。
func (s *Session) Normalize() {
	if !s.Step.IsValid() {
		s.Step = StepIdle
		s.Buy = nil
		s.Sell = nil
		s.Withdraw = nil
	}
}

// Store 抽象了会话状态的存取接口。会话不存在时返回新的空闲会话，
// 因此内存驱动下进程重启等价于所有用户回到空闲态。
type Store interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Put(ctx context.Context, session *Session) error
	Clear(ctx context.Context, userID string) error
	Close() error
}
