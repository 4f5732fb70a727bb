// Package config 通过 viper 加载 yaml 配置，支持 WA_ 前缀环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	WeCom    WeComConfig    `mapstructure:"wecom"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Media    MediaConfig    `mapstructure:"media"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Debug bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"` // json / console
	File              string `mapstructure:"file"`   // 为空只输出到 stdout
	RotationTimeHours int    `mapstructure:"rotation_time_hours"`
	MaxAgeDays        int    `mapstructure:"max_age_days"`
	MaxSizeMB         int    `mapstructure:"max_size_mb"`
}

// Tenant 一个企业（租户）的会话存档凭据
type Tenant struct {
	CorpID         string `mapstructure:"corp_id"`
	Secret         string `mapstructure:"secret"`
	EncodingAESKey string `mapstructure:"encoding_aes_key"`
}

type WeComConfig struct {
	APIBaseURL         string   `mapstructure:"api_base_url"`
	RequestTimeout     int      `mapstructure:"request_timeout"`      // 秒
	TokenCacheTTL      int      `mapstructure:"token_cache_ttl"`      // 秒
	TokenRefreshMargin int      `mapstructure:"token_refresh_margin"` // 秒
	Tenants            []Tenant `mapstructure:"tenants"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // mysql / postgres
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	MaxPoolSize    uint64 `mapstructure:"max_pool_size"`
	MinPoolSize    uint64 `mapstructure:"min_pool_size"`
	ConnectTimeout int    `mapstructure:"connect_timeout"` // 秒
}

type SyncConfig struct {
	BatchSize          int  `mapstructure:"batch_size"`
	SyncInterval       int  `mapstructure:"sync_interval"` // 秒
	EnableAutoSync     bool `mapstructure:"enable_auto_sync"`
	MaxSyncDays        int  `mapstructure:"max_sync_days"`
	FetchMaxAttempts   int  `mapstructure:"fetch_max_attempts"`
	PersistMaxAttempts int  `mapstructure:"persist_max_attempts"`
	BackoffInitialMS   int  `mapstructure:"backoff_initial_ms"`
	BackoffMaxMS       int  `mapstructure:"backoff_max_ms"`
	LockTTL            int  `mapstructure:"lock_ttl"` // 秒
}

type MediaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	StoragePath      string   `mapstructure:"storage_path"`
	URLPrefix        string   `mapstructure:"url_prefix"`
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	AllowedFileTypes []string `mapstructure:"allowed_file_types"`
	Workers          int      `mapstructure:"workers"`
	QueueSize        int      `mapstructure:"queue_size"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
}

// Seconds 辅助：int 秒 -> Duration
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis 辅助：int 毫秒 -> Duration
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wechat-work-archive")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.rotation_time_hours", 24)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.max_size_mb", 100)

	v.SetDefault("wecom.api_base_url", "https://qyapi.weixin.qq.com")
	v.SetDefault("wecom.request_timeout", 30)
	v.SetDefault("wecom.token_cache_ttl", 7000)
	v.SetDefault("wecom.token_refresh_margin", 300)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.addr", "127.0.0.1:6379")

	v.SetDefault("mongo.database", "wechat_archive")
	v.SetDefault("mongo.collection", "audit_logs")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.connect_timeout", 10)

	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.sync_interval", 300)
	v.SetDefault("sync.enable_auto_sync", true)
	v.SetDefault("sync.max_sync_days", 90)
	v.SetDefault("sync.fetch_max_attempts", 3)
	v.SetDefault("sync.persist_max_attempts", 3)
	v.SetDefault("sync.backoff_initial_ms", 500)
	v.SetDefault("sync.backoff_max_ms", 10000)
	v.SetDefault("sync.lock_ttl", 1800)

	v.SetDefault("media.enabled", true)
	v.SetDefault("media.storage_path", "/app/media")
	v.SetDefault("media.url_prefix", "/media")
	v.SetDefault("media.max_file_size", 100*1024*1024)
	v.SetDefault("media.allowed_file_types", []string{
		"jpg", "jpeg", "png", "gif", "mp4", "avi", "mp3", "wav", "amr",
		"doc", "docx", "pdf", "txt",
	})
	v.SetDefault("media.workers", 4)
	v.SetDefault("media.queue_size", 1024)
	v.SetDefault("media.max_attempts", 3)
}

// Load 读取配置文件。path 为空时依次尝试 CONFIG_PATH 环境变量与 ./configs/config.yaml。
// 测试可以直接传入 testCfg，跳过文件读取，只做校验。
func Load(path string, testCfg ...*Config) (*Config, error) {
	if len(testCfg) > 0 && testCfg[0] != nil {
		if err := validate(testCfg[0]); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return testCfg[0], nil
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.WeCom.Tenants) == 0 {
		return fmt.Errorf("wecom.tenants must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.WeCom.Tenants))
	for i, t := range cfg.WeCom.Tenants {
		if t.CorpID == "" || t.Secret == "" {
			return fmt.Errorf("wecom.tenants[%d]: corp_id and secret are required", i)
		}
		if len(t.EncodingAESKey) != 43 {
			return fmt.Errorf("wecom.tenants[%d]: encoding_aes_key must be 43 characters", i)
		}
		if _, dup := seen[t.CorpID]; dup {
			return fmt.Errorf("wecom.tenants[%d]: duplicate corp_id %s", i, t.CorpID)
		}
		seen[t.CorpID] = struct{}{}
	}
	switch cfg.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Sync.BatchSize <= 0 || cfg.Sync.BatchSize > 1000 {
		return fmt.Errorf("sync.batch_size must be in (0, 1000]")
	}
	if cfg.Sync.SyncInterval <= 0 {
		return fmt.Errorf("sync.sync_interval must be positive")
	}
	if cfg.Sync.FetchMaxAttempts <= 0 || cfg.Sync.PersistMaxAttempts <= 0 {
		return fmt.Errorf("sync retry ceilings must be positive")
	}
	if cfg.Media.Enabled {
		if cfg.Media.Workers <= 0 || cfg.Media.MaxAttempts <= 0 {
			return fmt.Errorf("media.workers and media.max_attempts must be positive")
		}
		if cfg.Media.StoragePath == "" {
			return fmt.Errorf("media.storage_path must not be empty")
		}
	}
	return nil
}
