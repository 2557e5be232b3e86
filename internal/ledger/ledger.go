package ledger

import (
	"context"

	xerrors "OpenTrade-Bot/internal/errors"
)

// WalletOrigin 标记钱包的来源。
type WalletOrigin string

const (
	OriginGenerated WalletOrigin = "generated"
	OriginImported  WalletOrigin = "imported"
)

// GasPriority 是用户偏好的 gas 档位。
type GasPriority string

const (
	GasLow    GasPriority = "low"
	GasMedium GasPriority = "medium"
	GasHigh   GasPriority = "high"
)

// TxStatus 是链上交易的最终状态。上链后只有成功与失败两种结果。
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailure TxStatus = "failure"
)

// DefaultSlippagePercent 是新用户的默认滑点。
const DefaultSlippagePercent = 1.0

// User 在首次接触时创建，此后除展示字段外不可变。
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   int64  `json:"created_at"`
}

// Wallet 保存加密后的私钥。每个用户最多一个活跃钱包，
// 重新创建或导入会在确认后整体替换旧记录。
type Wallet struct {
	UserID       string       `json:"user_id"`
	Address      string       `json:"address"`
	EncryptedKey string       `json:"encrypted_key"`
	Origin       WalletOrigin `json:"origin"`
	CreatedAt    int64        `json:"created_at"`
}

// Settings 保存用户的交易偏好，每个用户一行。
type Settings struct {
	UserID          string      `json:"user_id"`
	SlippagePercent float64     `json:"slippage_percent"`
	GasPriority     GasPriority `json:"gas_priority"`
	UpdatedAt       int64       `json:"updated_at"`
}

// DefaultSettings 返回新用户的默认偏好。
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:          userID,
		SlippagePercent: DefaultSlippagePercent,
		GasPriority:     GasMedium,
	}
}

// TxRecord 是一笔链上交易的落账记录，以交易哈希为唯一键。
// 金额一律是对应代币最小单位的整数十进制串，绝不保存人类可读格式。
type TxRecord struct {
	Hash          string   `json:"hash"`
	UserID        string   `json:"user_id"`
	WalletAddress string   `json:"wallet_address"`
	FromToken     string   `json:"from_token"`
	ToToken       string   `json:"to_token"`
	FromAmount    string   `json:"from_amount"`
	ToAmount      string   `json:"to_amount,omitempty"`
	Status        TxStatus `json:"status"`
	GasUsed       uint64   `json:"gas_used,omitempty"`
	CreatedAt     int64    `json:"created_at"`
}

// Store 抽象了用户、钱包、偏好与交易记录的持久化接口。
type Store interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (*User, error)

	PutWallet(ctx context.Context, wallet Wallet) error
	GetWallet(ctx context.Context, userID string) (*Wallet, error)

	UpsertSettings(ctx context.Context, settings Settings) error
	GetSettings(ctx context.Context, userID string) (*Settings, error)

	// RecordTransaction 以交易哈希为键做幂等写入：相同哈希相同内容是
	// 空操作，相同哈希不同内容视为实现缺陷并拒绝。
	RecordTransaction(ctx context.Context, record TxRecord) error
	RecentTransactions(ctx context.Context, userID string, limit int) ([]TxRecord, error)
	UniqueTokensForUser(ctx context.Context, userID string) ([]string, error)

	Close() error
}

const (
	CodeUserNotFound     xerrors.Code = "USER_NOT_FOUND"
	CodeWalletNotFound   xerrors.Code = "WALLET_NOT_FOUND"
	CodeSettingsNotFound xerrors.Code = "SETTINGS_NOT_FOUND"
	CodeRecordMismatch   xerrors.Code = "LEDGER_RECORD_MISMATCH"
)

var (
	// ErrUserNotFound 表示用户尚未建档。
	ErrUserNotFound = xerrors.New(CodeUserNotFound, "user not found")
	// ErrWalletNotFound 表示用户还没有钱包。
	ErrWalletNotFound = xerrors.New(CodeWalletNotFound, "wallet not found")
	// ErrSettingsNotFound 表示用户还没有偏好记录。
	ErrSettingsNotFound = xerrors.New(CodeSettingsNotFound, "settings not found")
	// ErrRecordMismatch 表示同一哈希写入了不同内容，属于实现缺陷。
	ErrRecordMismatch = xerrors.New(CodeRecordMismatch, "transaction record mismatch", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeUserNotFound, xerrors.Attributes{
		Message:   "user not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWalletNotFound, xerrors.Attributes{
		Message:   "wallet not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSettingsNotFound, xerrors.Attributes{
		Message:   "settings not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordMismatch, xerrors.Attributes{
		Message:   "transaction record mismatch",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// sameRecord 比较除时间戳外的全部字段。
func sameRecord(a, b TxRecord) bool {
	return a.Hash == b.Hash &&
		a.UserID == b.UserID &&
		a.WalletAddress == b.WalletAddress &&
		a.FromToken == b.FromToken &&
		a.ToToken == b.ToToken &&
		a.FromAmount == b.FromAmount &&
		a.ToAmount == b.ToAmount &&
		a.Status == b.Status &&
		a.GasUsed == b.GasUsed
}
