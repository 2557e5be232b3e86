package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenTrade-Bot/internal/errors"
)

// MemoryStore 以内存方式保存账本数据，用于开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	wallets  map[string]Wallet
	settings map[string]Settings
	records  map[string]TxRecord
	byUser   map[string][]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		wallets:  make(map[string]Wallet),
		settings: make(map[string]Settings),
		records:  make(map[string]TxRecord),
		byUser:   make(map[string][]string),
	}
}

// UpsertUser 实现 Store 接口。已存在的用户只更新展示字段。
func (m *MemoryStore) UpsertUser(_ context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "用户 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok {
		existing.DisplayName = user.DisplayName
		m.users[user.ID] = existing
		return nil
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	m.users[user.ID] = user
	return nil
}

// GetUser 返回用户档案。
func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := user
	return &clone, nil
}

// PutWallet 写入或整体替换用户的钱包记录。
func (m *MemoryStore) PutWallet(_ context.Context, wallet Wallet) error {
	if strings.TrimSpace(wallet.UserID) == "" || strings.TrimSpace(wallet.Address) == "" {
		return xerrors.New(xerrors.CodeValidation, "钱包记录缺少必填字段")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if wallet.CreatedAt == 0 {
		wallet.CreatedAt = time.Now().Unix()
	}
	m.wallets[wallet.UserID] = wallet
	return nil
}

// GetWallet 返回用户的钱包记录，不做任何解密。
func (m *MemoryStore) GetWallet(_ context.Context, userID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wallet, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	clone := wallet
	return &clone, nil
}

// UpsertSettings 写入用户偏好，每个用户一行。
func (m *MemoryStore) UpsertSettings(_ context.Context, settings Settings) error {
	if strings.TrimSpace(settings.UserID) == "" {
		return xerrors.New(xerrors.CodeValidation, "偏好记录缺少用户 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	settings.UpdatedAt = time.Now().Unix()
	m.settings[settings.UserID] = settings
	return nil
}

// GetSettings 返回用户偏好。
func (m *MemoryStore) GetSettings(_ context.Context, userID string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings, ok := m.settings[userID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	clone := settings
	return &clone, nil
}

// RecordTransaction 以哈希为键幂等写入。相同哈希不同内容拒绝写入。
func (m *MemoryStore) RecordTransaction(_ context.Context, record TxRecord) error {
	if strings.TrimSpace(record.Hash) == "" {
		return xerrors.New(xerrors.CodeValidation, "交易记录缺少哈希")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[record.Hash]; ok {
		if sameRecord(existing, record) {
			return nil
		}
		return ErrRecordMismatch
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	m.records[record.Hash] = record
	m.byUser[record.UserID] = append(m.byUser[record.UserID], record.Hash)
	return nil
}

// RecentTransactions 按时间倒序返回用户最近的交易记录。
func (m *MemoryStore) RecentTransactions(_ context.Context, userID string, limit int) ([]TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hashes := m.byUser[userID]
	results := make([]TxRecord, 0, len(hashes))
	for _, hash := range hashes {
		if record, ok := m.records[hash]; ok {
			results = append(results, record)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].Hash > results[j].Hash
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// UniqueTokensForUser 返回用户交易涉及过的全部代币地址。
func (m *MemoryStore) UniqueTokensForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var addresses []string
	for _, hash := range m.byUser[userID] {
		record, ok := m.records[hash]
		if !ok {
			continue
		}
		for _, token := range []string{record.FromToken, record.ToToken} {
			key := strings.ToLower(token)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			addresses = append(addresses, token)
		}
	}
	return addresses, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
