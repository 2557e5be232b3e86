package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了交易机器人在启动阶段需要加载的核心配置。
type Config struct {
	Chain   ChainConfig   `json:"chain"`
	Swap    SwapConfig    `json:"swap"`
	Vault   VaultConfig   `json:"vault"`
	Ledger  LedgerConfig  `json:"ledger"`
	Session SessionConfig `json:"session"`
	Events  EventsConfig  `json:"events"`
	Tokens  TokensConfig  `json:"tokens"`
	Log     LogConfig     `json:"log"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址与链参数。
type ChainConfig struct {
	RPCURL              string `json:"rpc_url"`
	ChainID             int64  `json:"chain_id"`
	ReceiptTimeoutSec   int    `json:"receipt_timeout_seconds"`
	ReceiptPollMillisec int    `json:"receipt_poll_milliseconds"`
}

// SwapConfig 描述聚合器报价服务的调用方式。
type SwapConfig struct {
	BaseURL    string `json:"base_url"`
	Referrer   string `json:"referrer"`
	TimeoutSec int    `json:"timeout_seconds"`
}

// VaultConfig 指定主加密密钥的来源环境变量。
type VaultConfig struct {
	MasterKeyEnv string `json:"master_key_env"`
}

// LedgerConfig 统一描述账本存储后端的连接信息。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// SessionConfig 描述会话存储后端。内存驱动在进程重启后会话全部回到空闲态。
type SessionConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// EventsConfig 描述入站事件队列的驱动与消费参数。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// TokensConfig 指定常用代币清单文件的位置。
type TokensConfig struct {
	Path string `json:"path"`
}

// LogConfig 控制日志输出方式。
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	AuditPath  string `json:"audit_path"`
	AuditSize  int    `json:"audit_max_size_mb"`
	AuditCount int    `json:"audit_max_backups"`
	AuditDays  int    `json:"audit_max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。MetricsAddress 为空时不启动指标服务。
type RuntimeConfig struct {
	DataDir        string `json:"data_dir"`
	MetricsAddress string `json:"metrics_address"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 1
	}
	if c.Chain.ReceiptTimeoutSec <= 0 {
		c.Chain.ReceiptTimeoutSec = 120
	}
	if c.Chain.ReceiptPollMillisec <= 0 {
		c.Chain.ReceiptPollMillisec = 1500
	}

	if c.Swap.TimeoutSec <= 0 {
		c.Swap.TimeoutSec = 30
	}

	if c.Vault.MasterKeyEnv == "" {
		c.Vault.MasterKeyEnv = "TRADEBOT_MASTER_KEY"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Worker <= 0 {
		c.Events.Worker = 4
	}

	if c.Tokens.Path != "" && !filepath.IsAbs(c.Tokens.Path) {
		c.Tokens.Path = filepath.Join(baseDir, c.Tokens.Path)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
