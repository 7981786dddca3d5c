package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int     `yaml:"port"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
		RateLimitBurst  int     `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Deposit struct {
		SweepIntervalMinutes int  `yaml:"sweep_interval_minutes"`
		AutoCancel           bool `yaml:"auto_cancel"`
	} `yaml:"deposit"`

	Reports struct {
		MonthlyEnabled     bool   `yaml:"monthly_enabled"`
		DailyDigestEnabled bool   `yaml:"daily_digest_enabled"`
		DailyDigestTime    string `yaml:"daily_digest_time"` // "20:00", shop local time
	} `yaml:"reports"`

	ShopsConfigPath    string `yaml:"shops_config_path"`
	ShopsReloadSeconds int    `yaml:"shops_reload_seconds"`
}

// Load reads config.yaml. A .env file next to the working directory is loaded first so
// its variables can be referenced as ${VAR} placeholders.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/salonbook.db"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Reports.DailyDigestTime == "" {
		c.Reports.DailyDigestTime = "20:00"
	}
	if c.ShopsConfigPath == "" {
		c.ShopsConfigPath = "configs/shops.yaml"
	}
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) BackupRetention() time.Duration {
	if c.Backup.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

func (c *Config) DepositSweepInterval() time.Duration {
	if c.Deposit.SweepIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Deposit.SweepIntervalMinutes) * time.Minute
}

func (c *Config) ShopsReloadInterval() time.Duration {
	if c.ShopsReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ShopsReloadSeconds) * time.Second
}
