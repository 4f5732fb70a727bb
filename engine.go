package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/audit"
	"github.com/luoxikang/wechat-work-archive/blobstore"
	"github.com/luoxikang/wechat-work-archive/config"
	"github.com/luoxikang/wechat-work-archive/repository"
	"github.com/luoxikang/wechat-work-archive/service"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

// ArchiveEngine 把同步、入库、媒体下载和查询装配在一起
type ArchiveEngine struct {
	config *config.Config
	log    *zap.Logger

	Tenants   service.TenantSet
	Store     *repository.GormStore
	Tokens    *service.TokenService
	Fetcher   *service.Fetcher
	Upsert    *service.UpsertService
	Media     *service.MediaService // media.enabled=false 时为 nil
	Sync      *service.SyncService
	Scheduler *service.Scheduler
	Query     *service.QueryService
	Hub       *TaskHub

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewEngine 创建实例
// 使用选项模式传入依赖，DB 与 Config 必填
func NewEngine(opts ...Option) (*ArchiveEngine, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.DB == nil {
		return nil, errors.New("archive: DB is required")
	}
	if o.Config == nil {
		return nil, errors.New("archive: Config is required")
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Audit == nil {
		o.Audit = audit.Nop{}
	}
	cfg := o.Config

	tenants, err := service.NewTenantSet(cfg.WeCom.Tenants)
	if err != nil {
		return nil, err
	}
	if o.API == nil {
		o.API = wecom.NewHTTPClient(cfg.WeCom.APIBaseURL, config.Seconds(cfg.WeCom.RequestTimeout))
	}

	e := &ArchiveEngine{config: cfg, log: o.Log, Tenants: tenants}
	e.Store = repository.NewGormStore(o.DB)

	tokenOpts := []service.TokenOption{
		service.WithTokenTTL(config.Seconds(cfg.WeCom.TokenCacheTTL), config.Seconds(cfg.WeCom.TokenRefreshMargin)),
		service.WithTokenLogger(o.Log.Named("token")),
	}
	if o.RDB != nil {
		tokenOpts = append(tokenOpts, service.WithTokenRedis(o.RDB))
	}
	e.Tokens = service.NewTokenService(o.API, tokenOpts...)

	sc := cfg.Sync
	fetchPolicy := service.RetryPolicy{
		MaxAttempts: sc.FetchMaxAttempts,
		Initial:     config.Millis(sc.BackoffInitialMS),
		Max:         config.Millis(sc.BackoffMaxMS),
	}
	persistPolicy := fetchPolicy
	persistPolicy.MaxAttempts = sc.PersistMaxAttempts

	e.Fetcher = service.NewFetcher(o.API, e.Tokens, fetchPolicy, o.Log.Named("fetcher"))
	e.Upsert = service.NewUpsertService(e.Store, persistPolicy, o.Log.Named("upsert"))

	deps := service.SyncDeps{
		Tenants: tenants,
		Fetcher: e.Fetcher,
		Upsert:  e.Upsert,
		Cursors: e.Store,
		Tasks:   e.Store,
		Audit:   o.Audit,
		Log:     o.Log.Named("sync"),
	}
	if o.RDB != nil {
		deps.Lock = service.NewRedisRunLock(o.RDB)
	}

	if cfg.Media.Enabled {
		blobs := o.Blobs
		if blobs == nil {
			local, err := blobstore.NewLocal(cfg.Media.StoragePath)
			if err != nil {
				return nil, fmt.Errorf("media storage: %w", err)
			}
			blobs = local
		}
		e.Media = service.NewMediaService(e.Store, o.API, e.Tokens, tenants, blobs, o.Audit, o.Log.Named("media"), service.MediaOptions{
			Workers:       cfg.Media.Workers,
			QueueSize:     cfg.Media.QueueSize,
			MaxAttempts:   cfg.Media.MaxAttempts,
			MaxFileSize:   cfg.Media.MaxFileSize,
			AllowedExt:    cfg.Media.AllowedFileTypes,
			URLPrefix:     cfg.Media.URLPrefix,
			Backoff:       persistPolicy,
			SweepInterval: config.Seconds(sc.SyncInterval),
		})
		deps.Media = e.Media
	}

	e.Sync = service.NewSyncService(deps, service.SyncOptions{
		BatchSize:   sc.BatchSize,
		MaxSyncDays: sc.MaxSyncDays,
		LockTTL:     config.Seconds(sc.LockTTL),
	})
	if sc.EnableAutoSync {
		e.Scheduler = service.NewScheduler(e.Sync, tenants.CorpIDs(), config.Seconds(sc.SyncInterval), o.Log.Named("scheduler"))
	}
	e.Query = service.NewQueryService(&service.Service{DB: o.DB, RDB: o.RDB, Log: o.Log})

	e.Hub = NewTaskHub(o.Log.Named("ws"))
	e.Sync.AddObserver(e.Hub)

	if cfg.Database.AutoMigrate {
		if err := e.AutoMigrate(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *ArchiveEngine) Config() *config.Config { return e.config }

// Start 启动媒体下载池、定时调度和 ws 推送
func (e *ArchiveEngine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)
	if e.Media != nil {
		if err := e.Media.Start(ctx); err != nil {
			e.cancel()
			return fmt.Errorf("start media pipeline: %w", err)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Hub.Run(ctx)
	}()
	if e.Scheduler != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.Scheduler.Run(ctx)
		}()
	}
	e.started = true
	return nil
}

// Close 依次停止调度、同步任务和媒体池
func (e *ArchiveEngine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.Sync.Close()
	if e.Media != nil && e.started {
		e.Media.Stop()
	}
	e.log.Info("archive engine stopped")
}

// RunOnce 执行一次同步并等待终态，给命令行 sync 子命令使用
func (e *ArchiveEngine) RunOnce(ctx context.Context, req service.SyncRequest) (*service.SyncTaskView, error) {
	taskID, err := e.Sync.StartSync(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.Sync.Wait(ctx, taskID); err != nil {
		return nil, err
	}
	// Wait 返回时终态已落库
	t, err := e.Sync.GetTask(context.WithoutCancel(ctx), taskID)
	if err != nil {
		return nil, err
	}
	e.log.Info("sync finished",
		zap.String("task_id", t.TaskID),
		zap.String("status", string(t.Status)),
		zap.Int64("success", t.SuccessCount),
		zap.Int64("errors", t.ErrorCount),
		zap.Duration("took", time.Duration(t.DurationSeconds*float64(time.Second))),
	)
	return t, nil
}
