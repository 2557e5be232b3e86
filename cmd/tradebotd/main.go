package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"OpenTrade-Bot/internal/chain"
	"OpenTrade-Bot/internal/config"
	"OpenTrade-Bot/internal/custody"
	"OpenTrade-Bot/internal/engine"
	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/observability/alerting"
	"OpenTrade-Bot/internal/observability/metrics"
	"OpenTrade-Bot/internal/session"
	"OpenTrade-Bot/internal/swap"
	"OpenTrade-Bot/internal/tokens"
	"OpenTrade-Bot/internal/transport"
	"OpenTrade-Bot/internal/vault"
	"OpenTrade-Bot/pkg/logger"
)

// main 是交易机器人守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("tradebotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在不算错误，环境变量可以由部署环境直接注入。
	_ = godotenv.Load()

	configPath := os.Getenv("TRADEBOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "tradebot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.AuditPath != "",
			Path:       cfg.Log.AuditPath,
			MaxSizeMB:  cfg.Log.AuditSize,
			MaxBackups: cfg.Log.AuditCount,
			MaxAgeDays: cfg.Log.AuditDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 主密钥自检失败必须拒绝启动，绝不能带病托管私钥。
	masterKey := strings.TrimSpace(os.Getenv(cfg.Vault.MasterKeyEnv))
	if masterKey == "" {
		return fmt.Errorf("环境变量 %s 未设置主密钥", cfg.Vault.MasterKeyEnv)
	}
	keyVault, err := vault.New(masterKey)
	if err != nil {
		return err
	}
	if err := keyVault.SelfTest(); err != nil {
		return fmt.Errorf("主密钥自检失败: %w", err)
	}

	var store ledger.Store
	switch cfg.Ledger.Driver {
	case "", "memory":
		store = ledger.NewMemoryStore()
	case "mysql":
		mysqlStore, err := ledger.NewMySQLStore(ctx, ledger.MySQLConfig{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Ledger.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Ledger.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
	defer func() {
		_ = store.Close()
	}()

	var sessions session.Store
	switch cfg.Session.Driver {
	case "", "memory":
		sessions = session.NewMemoryStore()
	case "redis":
		redisStore, err := session.NewRedisStore(session.RedisConfig{
			Address:  cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			TTL:      time.Duration(cfg.Session.TTLSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		sessions = redisStore
	default:
		return fmt.Errorf("未知的会话驱动: %s", cfg.Session.Driver)
	}
	defer func() {
		_ = sessions.Close()
	}()

	var events transport.Queue
	switch cfg.Events.Driver {
	case "", "memory":
		events = transport.NewMemoryQueue(1024)
	case "rabbitmq":
		queue, err := transport.NewRabbitMQQueue(transport.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Prefetch:   cfg.Events.RabbitMQ.Prefetch,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		events = queue
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", cfg.Events.Driver)
	}
	defer func() {
		if err := events.Close(); err != nil {
			log.Printf("关闭事件队列失败: %v", err)
		}
	}()

	registry, err := tokens.Load(cfg.Tokens.Path)
	if err != nil {
		return err
	}

	gateway, err := chain.NewEthGateway(ctx, chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		ReceiptTimeout: time.Duration(cfg.Chain.ReceiptTimeoutSec) * time.Second,
		ReceiptPoll:    time.Duration(cfg.Chain.ReceiptPollMillisec) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer gateway.Close()

	provider, err := swap.NewClient(swap.Config{
		BaseURL:  cfg.Swap.BaseURL,
		Referrer: cfg.Swap.Referrer,
		Timeout:  time.Duration(cfg.Swap.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	custodian := custody.New(keyVault, store, gateway)

	bot, err := engine.New(engine.Deps{
		Sessions:  sessions,
		Ledger:    store,
		Custodian: custodian,
		Gateway:   gateway,
		Provider:  provider,
		Tokens:    registry,
		Replier:   transport.NewLogReplier(),
		Alerts:    alerting.NewFanout(),
	})
	if err != nil {
		return err
	}

	if addr := cfg.Runtime.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务退出", "error", err)
			}
		}()
	}

	logger.L().Info("tradebotd 已启动",
		"ledger_driver", cfg.Ledger.Driver,
		"session_driver", cfg.Session.Driver,
		"events_driver", cfg.Events.Driver)

	err = events.Consume(ctx, cfg.Events.Worker, func(ctx context.Context, event transport.Event) error {
		start := time.Now()
		handleErr := bot.HandleEvent(ctx, event)
		outcome := "ok"
		if handleErr != nil {
			outcome = string(xerrors.CodeOf(handleErr))
		}
		metrics.ObserveEvent(string(event.Kind), outcome, time.Since(start))
		return handleErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
