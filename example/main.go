package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	archive "github.com/luoxikang/wechat-work-archive"
	"github.com/luoxikang/wechat-work-archive/config"
	"github.com/luoxikang/wechat-work-archive/repository"
	"github.com/luoxikang/wechat-work-archive/service"
)

// 把存档引擎嵌入到已有的 gin 服务里
func main() {
	// 1. 加载配置（./configs/config.yaml，WA_ 前缀环境变量可覆盖）
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}
	zl, _ := zap.NewDevelopment()
	defer func() { _ = zl.Sync() }()

	// 2. 初始化数据库连接
	db, err := repository.Open(cfg.Database, true)
	if err != nil {
		log.Fatal("数据库连接失败:", err)
	}

	// 3. 初始化引擎（未配置 Redis 时运行锁和 token 缓存只在本进程生效）
	engine, err := archive.NewEngine(
		archive.WithDB(db),
		archive.WithConfig(cfg),
		archive.WithLogger(zl),
	)
	if err != nil {
		log.Fatal("初始化引擎失败:", err)
	}
	if err := engine.AutoMigrate(); err != nil {
		log.Fatal("迁移失败:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := engine.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	// 4. 挂到自己的路由上，也可以只挂部分 handler
	r := gin.Default()
	engine.RegisterRoutes(r)
	archive.RegisterSwagger(r, "/swagger/*any")

	// 自定义接口直接调用 service
	r.GET("/my/sync-now", func(c *gin.Context) {
		view, err := engine.RunOnce(c.Request.Context(), service.SyncRequest{})
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, view)
	})

	log.Println("Server starting on", cfg.Server.Addr())
	if err := r.Run(cfg.Server.Addr()); err != nil {
		log.Fatal(err)
	}
}
