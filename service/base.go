package service

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 基础服务，包含数据库、Redis 与日志
type Service struct {
	DB  *gorm.DB
	RDB *redis.Client
	Log *zap.Logger
}
