package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OpenTrade-Bot/internal/errors"
)

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// TTL 为 0 时会话不过期。
	TTL time.Duration
}

// RedisStore 使用 Redis 保存会话，可在多副本部署间共享。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

func sessionKey(userID string) string {
	return "tradebot:session:" + userID
}

// Get 返回用户会话，不存在或无法解析时返回新的空闲会话。
func (r *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "用户 ID 不能为空")
	}
	payload, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(userID), nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}

	var stored Session
	if err := json.Unmarshal(payload, &stored); err != nil {
		// 损坏的会话等同于不存在，用户回到空闲态。
		return NewSession(userID), nil
	}
	stored.UserID = userID
	stored.Normalize()
	return &stored, nil
}

// Put 写回用户会话。
func (r *RedisStore) Put(ctx context.Context, session *Session) error {
	if session == nil || session.UserID == "" {
		return xerrors.New(xerrors.CodeValidation, "会话缺少用户 ID")
	}
	session.UpdatedAt = time.Now().Unix()
	payload, err := json.Marshal(session)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话失败")
	}
	if err := r.client.Set(ctx, sessionKey(session.UserID), payload, r.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Clear 删除用户会话。
func (r *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
