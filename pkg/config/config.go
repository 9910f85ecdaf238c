package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StrategyConfig 信号/仓位策略配置
type StrategyConfig struct {
	MinEdge             float64 `yaml:"min_edge"`              // 最小边际（模型概率与市场价格之差的绝对值）
	MinConfidence       float64 `yaml:"min_confidence"`        // 最小置信度
	KellyFraction       float64 `yaml:"kelly_fraction"`        // Kelly 比例（分数 Kelly）
	CompoundEnabled     bool    `yaml:"compound_enabled"`      // 是否启用连胜/连败复利调整
	CompoundStep        float64 `yaml:"compound_step"`         // 每次连胜/连败的乘数步长，默认 0.10
	CompoundSqrtScaling bool    `yaml:"compound_sqrt_scaling"` // 是否启用 sqrt(balance/baseline) 缩放
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxPositionPct       float64 `yaml:"max_position_pct"`       // 单仓位占余额的上限比例
	MaxExposurePct       float64 `yaml:"max_exposure_pct"`       // 总敞口占余额的上限比例
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`     // 当日最大亏损比例（触发后当日拒绝新开仓）
	DailyResetUTCHour    int     `yaml:"daily_reset_utc_hour"`   // 日窗口重置的 UTC 小时（0-23，默认 0）
	MinSecondsToClose    int64   `yaml:"min_seconds_to_close"`   // 距市场关闭的最小秒数（低于则拒绝）
	MinOrderSize         float64 `yaml:"min_order_size"`         // 最小下单金额（低于则视为不交易），默认 1
	MinBalanceReserve    float64 `yaml:"min_balance_reserve"`    // 余额保留金额（不参与仓位计算）
	MaxOpenPositions     int     `yaml:"max_open_positions"`     // 最大同时持仓数（0 表示不限制）
	MaxConsecutiveErrors int64   `yaml:"max_consecutive_errors"` // 连续执行错误熔断阈值（0 表示关闭）
}

// CopyConfig 跟单配置
type CopyConfig struct {
	Ratio           float64  `yaml:"ratio"`            // 跟单比例
	DelaySeconds    int      `yaml:"delay_seconds"`    // 跟单延迟（秒）
	FollowedTraders []string `yaml:"followed_traders"` // 被跟踪的 trader 地址列表
}

// ExecutionConfig 执行引擎配置
type ExecutionConfig struct {
	InflightPolicy   string `yaml:"inflight_policy"`    // 同市场已有在途订单时的策略: reject | queue
	RetryBudget      int    `yaml:"retry_budget"`       // 瞬时错误的最大重试次数
	BackoffBaseMs    int    `yaml:"backoff_base_ms"`    // 重试退避基础间隔（毫秒）
	BackoffMaxMs     int    `yaml:"backoff_max_ms"`     // 重试退避最大间隔（毫秒）
	FillPollMs       int    `yaml:"fill_poll_ms"`       // 成交轮询间隔（毫秒）
	ScanIntervalSecs int    `yaml:"scan_interval_secs"` // 市场扫描间隔（秒）
}

// EndpointsConfig 外部服务地址
type EndpointsConfig struct {
	GammaURL    string `yaml:"gamma_url"`    // 市场数据服务
	ExchangeURL string `yaml:"exchange_url"` // 交易所执行服务
	FeedURL     string `yaml:"feed_url"`     // 跟单 fill 流（websocket）
	ModelURL    string `yaml:"model_url"`    // 概率模型估计服务（可为空=扫描路径停用）
}

// WalletConfig 钱包配置
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"` // 十六进制私钥（用于 EIP712 签名）
	ChainID    int64  `yaml:"chain_id"`    // 链 ID，默认 137（Polygon）
}

// TelegramConfig Telegram 通知配置
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Config 应用配置
type Config struct {
	Strategy    StrategyConfig  `yaml:"strategy"`
	Risk        RiskConfig      `yaml:"risk"`
	Copy        CopyConfig      `yaml:"copy"`
	Execution   ExecutionConfig `yaml:"execution"`
	Endpoints   EndpointsConfig `yaml:"endpoints"`
	Wallet      WalletConfig    `yaml:"wallet"`
	Telegram    TelegramConfig  `yaml:"telegram"`
	DataDir     string          `yaml:"data_dir"`     // 状态持久化目录（Badger + JSON）
	HistoryDB   string          `yaml:"history_db"`   // 历史归档 sqlite 路径（可为空=不归档）
	ListenAddr  string          `yaml:"listen_addr"`  // 控制面监听地址（可为空=不启动）
	LogLevel    string          `yaml:"log_level"`    // 日志级别
	LogFile     string          `yaml:"log_file"`     // 日志文件路径
	InitBalance float64         `yaml:"init_balance"` // 初始余额（首次启动时生效，之后以持久化状态为准）
	DryRun      bool            `yaml:"dry_run"`      // 纸交易模式：不进行真实交易
}

var globalConfig *Config

// LoadFromFile 从指定文件加载配置（YAML），环境变量可覆盖敏感项
func LoadFromFile(filePath string) (*Config, error) {
	cfg := defaultConfig()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	}

	// 环境变量覆盖（敏感项优先从环境读取）
	cfg.Wallet.PrivateKey = getEnv("WALLET_PRIVATE_KEY", cfg.Wallet.PrivateKey)
	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Endpoints.GammaURL = getEnv("GAMMA_URL", cfg.Endpoints.GammaURL)
	cfg.Endpoints.ExchangeURL = getEnv("EXCHANGE_URL", cfg.Endpoints.ExchangeURL)
	cfg.Endpoints.FeedURL = getEnv("FEED_URL", cfg.Endpoints.FeedURL)
	cfg.Endpoints.ModelURL = getEnv("MODEL_URL", cfg.Endpoints.ModelURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("INIT_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.InitBalance = f
		}
	}

	cfg.Execution.InflightPolicy = strings.ToLower(cfg.Execution.InflightPolicy)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

func defaultConfig() *Config {
	return &Config{
		Strategy: StrategyConfig{
			MinEdge:             0.05,
			MinConfidence:       0.60,
			KellyFraction:       0.25,
			CompoundEnabled:     true,
			CompoundStep:        0.10,
			CompoundSqrtScaling: true,
		},
		Risk: RiskConfig{
			MaxPositionPct:       0.08,
			MaxExposurePct:       0.50,
			MaxDailyLossPct:      0.10,
			DailyResetUTCHour:    0,
			MinSecondsToClose:    300,
			MinOrderSize:         1.0,
			MinBalanceReserve:    0,
			MaxOpenPositions:     0,
			MaxConsecutiveErrors: 5,
		},
		Copy: CopyConfig{
			Ratio:        0.10,
			DelaySeconds: 30,
		},
		Execution: ExecutionConfig{
			InflightPolicy:   "reject",
			RetryBudget:      3,
			BackoffBaseMs:    500,
			BackoffMaxMs:     8000,
			FillPollMs:       1000,
			ScanIntervalSecs: 60,
		},
		Endpoints: EndpointsConfig{
			GammaURL:    "https://gamma-api.polymarket.com",
			ExchangeURL: "https://clob.polymarket.com",
			FeedURL:     "wss://ws-subscriptions-clob.polymarket.com/ws/user",
		},
		Wallet: WalletConfig{
			ChainID: 137,
		},
		DataDir:     "data",
		LogLevel:    "info",
		LogFile:     "logs/combined.log",
		InitBalance: 1000,
		DryRun:      false,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Strategy.MinEdge < 0 || c.Strategy.MinEdge >= 1 {
		return fmt.Errorf("min_edge 必须在 [0, 1) 之间")
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		return fmt.Errorf("min_confidence 必须在 [0, 1] 之间")
	}
	if c.Strategy.KellyFraction <= 0 || c.Strategy.KellyFraction > 1 {
		return fmt.Errorf("kelly_fraction 必须在 (0, 1] 之间")
	}
	if c.Strategy.CompoundStep < 0 || c.Strategy.CompoundStep > 0.5 {
		return fmt.Errorf("compound_step 必须在 [0, 0.5] 之间")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct 必须在 (0, 1] 之间")
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("max_exposure_pct 必须在 (0, 1] 之间")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("max_daily_loss_pct 必须在 (0, 1] 之间")
	}
	if c.Risk.DailyResetUTCHour < 0 || c.Risk.DailyResetUTCHour > 23 {
		return fmt.Errorf("daily_reset_utc_hour 必须在 [0, 23] 之间")
	}
	if c.Copy.Ratio < 0 {
		return fmt.Errorf("copy.ratio 不能为负数")
	}
	if c.Copy.DelaySeconds < 0 {
		return fmt.Errorf("copy.delay_seconds 不能为负数")
	}
	switch strings.ToLower(c.Execution.InflightPolicy) {
	case "reject", "queue":
	default:
		return fmt.Errorf("inflight_policy 必须为 reject 或 queue")
	}
	if c.Execution.RetryBudget < 0 {
		return fmt.Errorf("retry_budget 不能为负数")
	}
	if c.InitBalance <= 0 {
		return fmt.Errorf("init_balance 必须大于 0")
	}
	if !c.DryRun && c.Wallet.PrivateKey == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY 未配置（非 dry_run 模式下必需）")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
