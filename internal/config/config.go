package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"CreatorServices/internal/web3/provider"
	"CreatorServices/pkg/logger"
)

// Config 描述了 creatord 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig    `json:"server"`
	Web3    provider.Config `json:"web3"`
	Ledger  LedgerConfig    `json:"ledger"`
	Rating  RatingConfig    `json:"rating"`
	Cache   CacheConfig     `json:"cache"`
	Journal JournalConfig   `json:"journal"`
	Events  EventsConfig    `json:"events"`
	Logging logger.Config   `json:"logging"`
	Keyring KeyringConfig   `json:"keyring"`
	Runtime RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LedgerConfig 控制账本写入的确认等待、扫描并发以及单次扫描的项目上限。
type LedgerConfig struct {
	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
	ScanConcurrency       int `json:"scan_concurrency"`
	MaxScan               int `json:"max_scan"`
}

// ConfirmTimeout 返回等待写入确认的超时时间。
func (l LedgerConfig) ConfirmTimeout() time.Duration {
	return time.Duration(l.ConfirmTimeoutSeconds) * time.Second
}

// RatingConfig 给出评分的闭区间。
type RatingConfig struct {
	MinScore *int `json:"min_score"`
	MaxScore *int `json:"max_score"`
}

// CacheConfig 选择评分汇总缓存的实现。
type CacheConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 的连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// JournalConfig 选择已确认写入的记录方式。
type JournalConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventsConfig 选择生命周期事件的发布方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述事件交换机。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// KeyringConfig 列出开发环境使用的签名私钥。KeysEnv 指向一个以逗号分隔的
// 私钥环境变量。
type KeyringConfig struct {
	Keys    []string `json:"keys"`
	KeysEnv string   `json:"keys_env"`
}

// ResolveKeys 合并配置文件与环境变量中的私钥。
func (k KeyringConfig) ResolveKeys() []string {
	keys := append([]string(nil), k.Keys...)
	if k.KeysEnv == "" {
		return keys
	}
	for _, key := range strings.Split(os.Getenv(k.KeysEnv), ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		c.Ledger.ConfirmTimeoutSeconds = 120
	}
	if c.Ledger.ScanConcurrency <= 0 {
		c.Ledger.ScanConcurrency = 8
	}
	if c.Ledger.MaxScan <= 0 {
		c.Ledger.MaxScan = 10000
	}

	if c.Rating.MinScore == nil {
		lowest := 1
		c.Rating.MinScore = &lowest
	}
	if c.Rating.MaxScore == nil {
		highest := 5
		c.Rating.MaxScore = &highest
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 64
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func (c *Config) validate() error {
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return errors.New("redis 缓存需要配置 address")
		}
	default:
		return fmt.Errorf("未知的缓存驱动: %s", c.Cache.Driver)
	}

	switch c.Journal.Driver {
	case "memory":
	case "mysql":
		if c.Journal.DSN == "" {
			return errors.New("mysql 记录需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的记录驱动: %s", c.Journal.Driver)
	}

	switch c.Events.Driver {
	case "memory", "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	if *c.Rating.MinScore > *c.Rating.MaxScore {
		return fmt.Errorf("评分区间无效: %d > %d", *c.Rating.MinScore, *c.Rating.MaxScore)
	}
	return nil
}
