package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"restake-risk-alerts/internal/logging"
	"restake-risk-alerts/internal/risk"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Assets     AssetsConfig     `mapstructure:"assets"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs the
// engine on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig governs task cadence and shutdown.
type SchedulerConfig struct {
	RiskInterval        time.Duration `mapstructure:"risk_interval"`
	AnalyticsInterval   time.Duration `mapstructure:"analytics_interval"`
	BridgeSweepInterval time.Duration `mapstructure:"bridge_sweep_interval"`
	HousekeepInterval   time.Duration `mapstructure:"housekeep_interval"`
	Jitter              time.Duration `mapstructure:"jitter"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
	GracePeriod         time.Duration `mapstructure:"grace_period"`
	AdvisoryLockKey     int64         `mapstructure:"advisory_lock_key"`
}

// AssetsConfig lists the restaked assets under watch.
type AssetsConfig struct {
	Watch []string `mapstructure:"watch"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	OracleAddress  string        `mapstructure:"oracle_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AggregatorConfig captures the analytics aggregator connectivity.
type AggregatorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	APIKey         string        `mapstructure:"api_key"`
}

// RiskConfig holds the scoring policy: weights, severity bands, per-category
// thresholds, and profile defaults.
type RiskConfig struct {
	WeightSlashing      float64 `mapstructure:"weight_slashing"`
	WeightLiquidity     float64 `mapstructure:"weight_liquidity"`
	WeightSmartContract float64 `mapstructure:"weight_smart_contract"`
	WeightMarket        float64 `mapstructure:"weight_market"`

	BandCritical float64 `mapstructure:"band_critical"`
	BandHigh     float64 `mapstructure:"band_high"`
	BandMedium   float64 `mapstructure:"band_medium"`

	SlashingThreshold      float64 `mapstructure:"slashing_threshold"`
	SmartContractThreshold float64 `mapstructure:"smart_contract_threshold"`

	DefaultMaxRiskScore   float64 `mapstructure:"default_max_risk_score"`
	DefaultPreferredYield float64 `mapstructure:"default_preferred_yield"`
}

// Weights converts the configured weights into engine form.
func (r RiskConfig) Weights() risk.Weights {
	return risk.Weights{
		Slashing:      decimal.NewFromFloat(r.WeightSlashing),
		Liquidity:     decimal.NewFromFloat(r.WeightLiquidity),
		SmartContract: decimal.NewFromFloat(r.WeightSmartContract),
		Market:        decimal.NewFromFloat(r.WeightMarket),
	}
}

// Bands converts the configured cutoffs into engine form.
func (r RiskConfig) Bands() risk.SeverityBands {
	return risk.SeverityBands{
		Critical: decimal.NewFromFloat(r.BandCritical),
		High:     decimal.NewFromFloat(r.BandHigh),
		Medium:   decimal.NewFromFloat(r.BandMedium),
	}
}

// CategoryThresholds returns the configured sub-score alert thresholds.
func (r RiskConfig) CategoryThresholds() map[risk.Category]decimal.Decimal {
	out := make(map[risk.Category]decimal.Decimal)
	if r.SlashingThreshold > 0 {
		out[risk.CategorySlashing] = decimal.NewFromFloat(r.SlashingThreshold)
	}
	if r.SmartContractThreshold > 0 {
		out[risk.CategorySmartContract] = decimal.NewFromFloat(r.SmartContractThreshold)
	}
	return out
}

// CacheConfig governs the fetch cache.
type CacheConfig struct {
	SubScoreTTL   time.Duration `mapstructure:"sub_score_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	AttachTimeout time.Duration `mapstructure:"attach_timeout"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram side channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// BridgeConfig tunes the cross-chain tracker.
type BridgeConfig struct {
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
	SourceChain    string        `mapstructure:"source_chain"`
}

// RealtimeConfig tunes the fan-out hub.
type RealtimeConfig struct {
	ClientQueueSize int `mapstructure:"client_queue_size"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESTAKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "restakewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("scheduler.risk_interval", "10s")
	v.SetDefault("scheduler.analytics_interval", "30s")
	v.SetDefault("scheduler.bridge_sweep_interval", "1m")
	v.SetDefault("scheduler.housekeep_interval", "1h")
	v.SetDefault("scheduler.jitter", "1s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.grace_period", "10s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72737477))

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("aggregator.request_timeout", "10s")
	v.SetDefault("aggregator.user_agent", "restakewatch/1.0")

	v.SetDefault("risk.weight_slashing", 0.35)
	v.SetDefault("risk.weight_liquidity", 0.25)
	v.SetDefault("risk.weight_smart_contract", 0.25)
	v.SetDefault("risk.weight_market", 0.15)
	v.SetDefault("risk.band_critical", 90.0)
	v.SetDefault("risk.band_high", 75.0)
	v.SetDefault("risk.band_medium", 50.0)
	v.SetDefault("risk.slashing_threshold", 80.0)
	v.SetDefault("risk.smart_contract_threshold", 80.0)
	v.SetDefault("risk.default_max_risk_score", 70.0)
	v.SetDefault("risk.default_preferred_yield", 5.0)

	v.SetDefault("cache.sub_score_ttl", "30s")
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.attach_timeout", "15s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("bridge.pending_timeout", "30m")
	v.SetDefault("bridge.source_chain", "ethereum")

	v.SetDefault("realtime.client_queue_size", 64)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := c.Risk.Weights().Validate(); err != nil {
		return err
	}
	if err := c.Risk.Bands().Validate(); err != nil {
		return err
	}
	if c.Scheduler.RiskInterval <= 0 || c.Scheduler.AnalyticsInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Scheduler.BridgeSweepInterval <= 0 {
		return fmt.Errorf("scheduler.bridge_sweep_interval must be greater than zero")
	}
	if c.Cache.SubScoreTTL <= 0 {
		return fmt.Errorf("cache.sub_score_ttl must be greater than zero")
	}
	if c.Bridge.PendingTimeout <= 0 {
		return fmt.Errorf("bridge.pending_timeout must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Risk.DefaultMaxRiskScore < 0 || c.Risk.DefaultMaxRiskScore > 100 {
		return fmt.Errorf("risk.default_max_risk_score must lie in [0,100]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
