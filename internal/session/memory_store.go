package session

import (
	"context"
	"sync"
	"time"

	xerrors "OpenTrade-Bot/internal/errors"
)

// MemoryStore 以进程内存保存会话，重启后所有会话回到空闲态。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Get 返回用户会话，不存在时返回新的空闲会话。
func (m *MemoryStore) Get(_ context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "用户 ID 不能为空")
	}
	m.mu.RLock()
	stored, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return NewSession(userID), nil
	}
	clone := stored.Clone()
	clone.Normalize()
	return clone, nil
}

// Put 写回用户会话。
func (m *MemoryStore) Put(_ context.Context, session *Session) error {
	if session == nil || session.UserID == "" {
		return xerrors.New(xerrors.CodeValidation, "会话缺少用户 ID")
	}
	session.UpdatedAt = time.Now().Unix()
	clone := session.Clone()
	m.mu.Lock()
	m.sessions[session.UserID] = clone
	m.mu.Unlock()
	return nil
}

// Clear 删除用户会话。
func (m *MemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
