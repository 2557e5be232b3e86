package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "OpenTrade-Bot/internal/errors"
)

// MySQLConfig 描述 MySQL 账本的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 持久化账本数据。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接并执行内嵌迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// UpsertUser 插入用户档案，已存在时只更新展示字段。
func (s *MySQLStore) UpsertUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "用户 ID 不能为空")
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO users (id, display_name, created_at)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE display_name = VALUES(display_name)`
	if _, err := s.db.ExecContext(ctx, stmt, user.ID, user.DisplayName, user.CreatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户档案失败")
	}
	return nil
}

// GetUser 返回用户档案。
func (s *MySQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `SELECT id, display_name, created_at FROM users WHERE id = ?`
	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户档案失败")
	}
	return &user, nil
}

// PutWallet 写入或整体替换用户的钱包记录。
func (s *MySQLStore) PutWallet(ctx context.Context, wallet Wallet) error {
	if strings.TrimSpace(wallet.UserID) == "" || strings.TrimSpace(wallet.Address) == "" {
		return xerrors.New(xerrors.CodeValidation, "钱包记录缺少必填字段")
	}
	if wallet.CreatedAt == 0 {
		wallet.CreatedAt = time.Now().Unix()
	}
	const stmt = `INSERT INTO wallets (user_id, address, encrypted_key, origin, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            address = VALUES(address),
            encrypted_key = VALUES(encrypted_key),
            origin = VALUES(origin),
            created_at = VALUES(created_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		wallet.UserID, wallet.Address, wallet.EncryptedKey, wallet.Origin, wallet.CreatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入钱包记录失败")
	}
	return nil
}

// GetWallet 返回用户的钱包记录。
func (s *MySQLStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	const query = `SELECT user_id, address, encrypted_key, origin, created_at
        FROM wallets WHERE user_id = ?`
	var wallet Wallet
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&wallet.UserID, &wallet.Address, &wallet.EncryptedKey, &wallet.Origin, &wallet.CreatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包记录失败")
	}
	return &wallet, nil
}

// UpsertSettings 写入用户偏好。
func (s *MySQLStore) UpsertSettings(ctx context.Context, settings Settings) error {
	if strings.TrimSpace(settings.UserID) == "" {
		return xerrors.New(xerrors.CodeValidation, "偏好记录缺少用户 ID")
	}
	settings.UpdatedAt = time.Now().Unix()
	const stmt = `INSERT INTO settings (user_id, slippage_percent, gas_priority, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            slippage_percent = VALUES(slippage_percent),
            gas_priority = VALUES(gas_priority),
            updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		settings.UserID, settings.SlippagePercent, settings.GasPriority, settings.UpdatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户偏好失败")
	}
	return nil
}

// GetSettings 返回用户偏好。
func (s *MySQLStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	const query = `SELECT user_id, slippage_percent, gas_priority, updated_at
        FROM settings WHERE user_id = ?`
	var settings Settings
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&settings.UserID, &settings.SlippagePercent, &settings.GasPriority, &settings.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户偏好失败")
	}
	return &settings, nil
}

// RecordTransaction 以哈希为键幂等写入，内容不一致时拒绝。
func (s *MySQLStore) RecordTransaction(ctx context.Context, record TxRecord) error {
	if strings.TrimSpace(record.Hash) == "" {
		return xerrors.New(xerrors.CodeValidation, "交易记录缺少哈希")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	existing, err := s.getRecord(ctx, record.Hash)
	if err != nil && !xerrors.IsCode(err, xerrors.CodeNotFound) {
		return err
	}
	if existing != nil {
		if sameRecord(*existing, record) {
			return nil
		}
		return ErrRecordMismatch
	}

	const stmt = `INSERT INTO transactions
        (tx_hash, user_id, wallet_address, from_token, to_token, from_amount, to_amount, status, gas_used, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE tx_hash = tx_hash`
	if _, err := s.db.ExecContext(ctx, stmt,
		record.Hash, record.UserID, record.WalletAddress,
		record.FromToken, record.ToToken,
		record.FromAmount, record.ToAmount,
		record.Status, record.GasUsed, record.CreatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易记录失败")
	}
	return nil
}

func (s *MySQLStore) getRecord(ctx context.Context, hash string) (*TxRecord, error) {
	const query = `SELECT tx_hash, user_id, wallet_address, from_token, to_token,
        from_amount, to_amount, status, gas_used, created_at
        FROM transactions WHERE tx_hash = ?`
	var record TxRecord
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&record.Hash, &record.UserID, &record.WalletAddress,
		&record.FromToken, &record.ToToken,
		&record.FromAmount, &record.ToAmount,
		&record.Status, &record.GasUsed, &record.CreatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "交易记录不存在")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易记录失败")
	}
	return &record, nil
}

// RecentTransactions 按时间倒序返回用户最近的交易记录。
func (s *MySQLStore) RecentTransactions(ctx context.Context, userID string, limit int) ([]TxRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT tx_hash, user_id, wallet_address, from_token, to_token,
        from_amount, to_amount, status, gas_used, created_at
        FROM transactions WHERE user_id = ?
        ORDER BY created_at DESC, tx_hash DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易历史失败")
	}
	defer rows.Close()

	var results []TxRecord
	for rows.Next() {
		var record TxRecord
		if err := rows.Scan(
			&record.Hash, &record.UserID, &record.WalletAddress,
			&record.FromToken, &record.ToToken,
			&record.FromAmount, &record.ToAmount,
			&record.Status, &record.GasUsed, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易记录失败")
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易记录失败")
	}
	return results, nil
}

// UniqueTokensForUser 返回用户交易涉及过的全部代币地址。
func (s *MySQLStore) UniqueTokensForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT from_token FROM transactions WHERE user_id = ?
        UNION SELECT to_token FROM transactions WHERE user_id = ?`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代币集合失败")
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析代币地址失败")
		}
		if strings.TrimSpace(address) != "" {
			addresses = append(addresses, address)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历代币集合失败")
	}
	return addresses, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
