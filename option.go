package archive

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/luoxikang/wechat-work-archive/audit"
	"github.com/luoxikang/wechat-work-archive/blobstore"
	"github.com/luoxikang/wechat-work-archive/config"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

type Options struct {
	DB     *gorm.DB
	RDB    *redis.Client
	Log    *zap.Logger
	Config *config.Config

	// 以下为空时按 Config 构造默认实现
	API   wecom.Client
	Blobs blobstore.Store
	Audit audit.Sink
}

type Option func(*Options)

func WithDB(db *gorm.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithRDB 配置后令牌共享缓存与运行锁都走 Redis，多实例部署时必须配置
func WithRDB(rdb *redis.Client) Option {
	return func(o *Options) {
		o.RDB = rdb
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Log = l
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithAPIClient 替换会话存档接口，测试或代理场景使用
func WithAPIClient(c wecom.Client) Option {
	return func(o *Options) {
		o.API = c
	}
}

func WithBlobStore(s blobstore.Store) Option {
	return func(o *Options) {
		o.Blobs = s
	}
}

func WithAuditSink(s audit.Sink) Option {
	return func(o *Options) {
		o.Audit = s
	}
}
