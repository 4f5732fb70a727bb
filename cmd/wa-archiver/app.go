package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	archive "github.com/luoxikang/wechat-work-archive"
	"github.com/luoxikang/wechat-work-archive/audit"
	"github.com/luoxikang/wechat-work-archive/config"
	"github.com/luoxikang/wechat-work-archive/logger"
	"github.com/luoxikang/wechat-work-archive/repository"
)

type contextKey int

const contextKeyApp contextKey = iota

// appState 子命令共享的基础设施，After 中统一关闭
type appState struct {
	cfg       *config.Config
	log       *zap.Logger
	logCloser io.Closer

	db    *gorm.DB
	rdb   *redis.Client
	mongo *mongo.Client
}

func getApp(c *cli.Context) *appState {
	return c.Context.Value(contextKeyApp).(*appState)
}

func prepareApp(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	c.Context = context.WithValue(c.Context, contextKeyApp, &appState{cfg: cfg, log: log, logCloser: closer})
	return nil
}

func cleanupApp(c *cli.Context) error {
	v := c.Context.Value(contextKeyApp)
	if v == nil {
		return nil
	}
	st := v.(*appState)
	if st.rdb != nil {
		_ = st.rdb.Close()
	}
	if st.mongo != nil {
		_ = st.mongo.Disconnect(context.Background())
	}
	if st.db != nil {
		if sqlDB, err := st.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = st.log.Sync()
	return st.logCloser.Close()
}

func (st *appState) openDB() (*gorm.DB, error) {
	if st.db != nil {
		return st.db, nil
	}
	db, err := repository.Open(st.cfg.Database, st.cfg.App.Debug)
	if err != nil {
		return nil, err
	}
	st.db = db
	return db, nil
}

// engine 按配置连接 DB / Redis / Mongo 并构造引擎
func (st *appState) engine(ctx context.Context) (*archive.ArchiveEngine, error) {
	db, err := st.openDB()
	if err != nil {
		return nil, err
	}
	opts := []archive.Option{
		archive.WithDB(db),
		archive.WithConfig(st.cfg),
		archive.WithLogger(st.log),
	}

	if st.cfg.Redis.Enabled {
		st.rdb = redis.NewClient(&redis.Options{
			Addr:     st.cfg.Redis.Addr,
			Password: st.cfg.Redis.Password,
			DB:       st.cfg.Redis.DB,
		})
		if err := st.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, archive.WithRDB(st.rdb))
	}

	if st.cfg.Mongo.Enabled {
		client, err := audit.Connect(ctx, st.cfg.Mongo)
		if err != nil {
			return nil, err
		}
		st.mongo = client
		sink := audit.NewMongoSink(client.Database(st.cfg.Mongo.Database), st.cfg.Mongo.Collection)
		if err := sink.EnsureIndexes(ctx); err != nil {
			st.log.Warn("ensure audit indexes failed", zap.Error(err))
		}
		opts = append(opts, archive.WithAuditSink(sink))
	}

	return archive.NewEngine(opts...)
}
