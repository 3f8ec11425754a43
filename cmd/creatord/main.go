package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"CreatorServices/internal/api"
	"CreatorServices/internal/config"
	"CreatorServices/internal/events"
	"CreatorServices/internal/funds"
	"CreatorServices/internal/ledger"
	"CreatorServices/internal/observability/metrics"
	"CreatorServices/internal/project"
	"CreatorServices/internal/reputation"
	"CreatorServices/internal/storage/mysql"
	"CreatorServices/internal/storage/redis"
	"CreatorServices/internal/wallet"
	"CreatorServices/internal/web3/provider"
	"CreatorServices/pkg/logger"
)

// main 是 creatord 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("creatord 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CREATORD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "creatord.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("creatord")

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Web3, provider.DialEVM)
	if err != nil {
		return err
	}
	defer registry.Close()

	keyring, err := wallet.NewKeyring(cfg.Keyring.ResolveKeys()...)
	if err != nil {
		return err
	}
	session := wallet.NewSession(registry)

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher, err := openPublisher(cfg, lg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	router := ledger.NewRouter(registry, ledger.Config{
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout(),
	})
	guard := funds.NewGuard(registry)

	projects, err := project.NewCoordinator(ctx, router, guard, keyring,
		project.WithScanConcurrency(cfg.Ledger.ScanConcurrency),
		project.WithMaxScan(cfg.Ledger.MaxScan),
		project.WithJournal(journal),
		project.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}
	ratings, err := reputation.NewCoordinator(router, keyring,
		reputation.WithScoreBounds(*cfg.Rating.MinScore, *cfg.Rating.MaxScore),
		reputation.WithCache(cache),
		reputation.WithJournal(journal),
		reputation.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}

	// 账户或网络变化后，旧视图全部作废。
	session.OnChange(func(change wallet.Change) {
		lg.Info("session changed", slog.String("kind", string(change.Kind)),
			slog.String("previous", change.Previous), slog.String("current", change.Current),
			slog.Uint64("generation", change.Generation))
		projects.InvalidateAll()
		ratings.InvalidateAll(context.WithoutCancel(ctx))
	})

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	lg.Info("creatord started",
		slog.String("address", cfg.Server.Address),
		slog.String("network", registry.ActiveName()),
		slog.Any("chains", registry.Chains()),
		slog.Int("accounts", len(keyring.Accounts())))

	server := api.NewServer(cfg.Server.Address, api.Deps{
		Agreements: projects,
		Ratings:    ratings,
		Funds:      guard,
		Session:    session,
		Journal:    journal,
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openJournal(ctx context.Context, cfg *config.Config) (mysql.Journal, error) {
	switch cfg.Journal.Driver {
	case "memory":
		return mysql.NewFileJournal(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLJournal(ctx, mysql.Config{
			DSN:             cfg.Journal.DSN,
			MaxOpenConns:    cfg.Journal.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Journal.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Journal.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的写入日志驱动: %s", cfg.Journal.Driver)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (reputation.AggregateCache, func(), error) {
	switch cfg.Cache.Driver {
	case "memory":
		return reputation.NewMemoryCache(), func() {}, nil
	case "redis":
		cache, err := redis.NewAggregateCache(ctx, redis.Config{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      time.Duration(cfg.Cache.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return cache, func() { _ = cache.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Cache.Driver)
	}
}

func openPublisher(cfg *config.Config, lg *slog.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "none":
		return events.Nop{}, nil
	case "memory":
		bus := events.NewMemoryBus(cfg.Events.Buffer)
		stream, _ := bus.Subscribe()
		go func() {
			for event := range stream {
				lg.Info("ledger event", slog.String("type", string(event.Type)),
					slog.String("network", event.Network), slog.String("tx_hash", event.TxHash))
			}
		}()
		return bus, nil
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Exchange: cfg.Events.RabbitMQ.Exchange,
			Durable:  cfg.Events.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}
