package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	TradeAPI   TradeAPIConfig   `mapstructure:"trade_api"`
	AutoUpdate AutoUpdateConfig `mapstructure:"auto_update"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Disqualify DisqualifyConfig `mapstructure:"disqualify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TimeoutSweep time.Duration `mapstructure:"timeout_sweep"`
	CleanupSweep time.Duration `mapstructure:"cleanup_sweep"`
}

type TradeAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AutoUpdateConfig drives the recurring account refresh scheduler.
// Zero ErrorAccountsInterval means errored accounts follow the standard
// interval; zero DisqualifiedRecheckInterval disables disqualified rechecks.
type AutoUpdateConfig struct {
	Enabled                     bool          `mapstructure:"enabled"`
	Interval                    time.Duration `mapstructure:"interval"`
	MinUpdateInterval           time.Duration `mapstructure:"min_update_interval"`
	ErrorAccountsInterval       time.Duration `mapstructure:"error_accounts_interval"`
	DisqualifiedRecheckInterval time.Duration `mapstructure:"disqualified_recheck_interval"`
}

type QueueConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout"`
	CleanupAge    time.Duration `mapstructure:"cleanup_age"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
}

type DisqualifyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.timeout_sweep", "1m")
	v.SetDefault("cron.cleanup_sweep", "10m")
	v.SetDefault("trade_api.base_url", "")
	v.SetDefault("trade_api.timeout", "30s")
	v.SetDefault("auto_update.enabled", true)
	v.SetDefault("auto_update.interval", "60m")
	v.SetDefault("auto_update.min_update_interval", "5m")
	v.SetDefault("auto_update.error_accounts_interval", "30m")
	v.SetDefault("auto_update.disqualified_recheck_interval", "1440m")
	v.SetDefault("queue.batch_size", 2)
	v.SetDefault("queue.batch_interval", "300s")
	v.SetDefault("queue.stall_timeout", "30m")
	v.SetDefault("queue.cleanup_age", "24h")
	v.SetDefault("queue.lease_ttl", "5m")
	v.SetDefault("disqualify.enabled", true)
	v.SetDefault("disqualify.delay", "5s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()

	return cfg, nil
}

// normalize clamps tunables to the ranges the external API tolerates.
func (c *Config) normalize() {
	clampDuration(&c.AutoUpdate.Interval, 5*time.Minute, 1440*time.Minute, 60*time.Minute)
	clampDuration(&c.TradeAPI.Timeout, 10*time.Second, 120*time.Second, 30*time.Second)
	clampDuration(&c.Queue.StallTimeout, 10*time.Minute, 240*time.Minute, 30*time.Minute)
	if c.Queue.BatchSize < 1 {
		c.Queue.BatchSize = 2
	} else if c.Queue.BatchSize > 20 {
		c.Queue.BatchSize = 20
	}
	if c.Queue.BatchInterval <= 0 {
		c.Queue.BatchInterval = 300 * time.Second
	}
	if c.Queue.LeaseTTL <= 0 {
		c.Queue.LeaseTTL = 5 * time.Minute
	}
	// The lease must outlive a worst-case batch (every fetch running to the
	// API timeout) or a parallel tick could take over mid-run.
	if minLease := time.Duration(c.Queue.BatchSize)*c.TradeAPI.Timeout + time.Minute; c.Queue.LeaseTTL < minLease {
		c.Queue.LeaseTTL = minLease
	}
	if c.AutoUpdate.MinUpdateInterval <= 0 {
		c.AutoUpdate.MinUpdateInterval = 5 * time.Minute
	}
	if c.AutoUpdate.ErrorAccountsInterval < 0 {
		c.AutoUpdate.ErrorAccountsInterval = 0
	}
	if c.AutoUpdate.DisqualifiedRecheckInterval < 0 {
		c.AutoUpdate.DisqualifiedRecheckInterval = 0
	}
}

func clampDuration(d *time.Duration, min, max, fallback time.Duration) {
	if *d <= 0 {
		*d = fallback
		return
	}
	if *d < min {
		*d = min
	} else if *d > max {
		*d = max
	}
}
