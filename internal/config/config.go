package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	PriceSource PriceSourceConfig `mapstructure:"price_source"`
	Push        PushConfig        `mapstructure:"push"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the durable key-value store behind the state cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PriceSourceConfig captures the upstream quote API.
type PriceSourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// PushConfig 描述推送服务参数。
type PushConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertsConfig tunes evaluation and the state cache.
type AlertsConfig struct {
	ChangeThresholdPct float64       `mapstructure:"change_threshold_pct"`
	RenotifyCooldown   time.Duration `mapstructure:"renotify_cooldown"`
	KVWriteInterval    time.Duration `mapstructure:"kv_write_interval"`
	StateTTL           time.Duration `mapstructure:"state_ttl"`
}

// DispatchConfig bounds the notification dispatcher.
type DispatchConfig struct {
	MaxRetries         int             `mapstructure:"max_retries"`
	RetryDelays        []time.Duration `mapstructure:"retry_delays"`
	MaxConcurrentSends int64           `mapstructure:"max_concurrent_sends"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKLY")
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
	v.SetDefault("app.name", "stockly-alerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "stockly:")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73746f63))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("price_source.request_timeout", "10s")
	v.SetDefault("price_source.max_concurrent", 8)
	v.SetDefault("price_source.user_agent", "stockly-alerts/1.0")

	v.SetDefault("push.base_url", "https://exp.host")
	v.SetDefault("push.request_timeout", "10s")

	v.SetDefault("alerts.change_threshold_pct", 2.0)
	v.SetDefault("alerts.renotify_cooldown", "15m")
	v.SetDefault("alerts.kv_write_interval", "1h")
	v.SetDefault("alerts.state_ttl", "720h")

	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.retry_delays", []string{"200ms", "500ms", "1s"})
	v.SetDefault("dispatch.max_concurrent_sends", int64(16))

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerts.ChangeThresholdPct < 0 {
		return fmt.Errorf("alerts.change_threshold_pct cannot be negative")
	}
	if c.Alerts.RenotifyCooldown < 0 {
		return fmt.Errorf("alerts.renotify_cooldown cannot be negative")
	}
	if c.Alerts.KVWriteInterval < 0 {
		return fmt.Errorf("alerts.kv_write_interval cannot be negative")
	}
	if c.Dispatch.MaxRetries <= 0 {
		return fmt.Errorf("dispatch.max_retries must be greater than zero")
	}
	if c.Dispatch.MaxConcurrentSends <= 0 {
		return fmt.Errorf("dispatch.max_concurrent_sends must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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
